// Package processor implements the per-transaction-type business logic
// stage of the pipeline. Each Processor is stateless and
// idempotent given the same (transactionId, inputs).
package processor

import (
	"context"

	"github.com/nilm987521/fep/iso8583"
	"github.com/nilm987521/fep/txn"
)

// Request is what a processor needs to produce a response.
type Request struct {
	Message     *iso8583.Message
	Transaction *txn.Transaction
}

// Response is a processor's outcome: a reply message plus the status it
// implies for the audit stage.
type Response struct {
	Message           *iso8583.Message
	ResponseCode      string
	AuthorizationCode string
	Status            txn.Status
}

// Processor is the polymorphic business-logic unit selected by the
// router.
type Processor interface {
	Supports(txnType string) bool
	Process(ctx context.Context, req Request) (Response, error)
}

// ApprovedResponse builds a standard 0210-class approval response,
// field 39 = "00", shared by every default processor's happy path.
func ApprovedResponse(req Request, authCode string) Response {
	resp := iso8583.NewMessage(responseMTI(req.Message.MTI), nil)
	if stan, ok := req.Message.STAN(); ok {
		resp.SetFieldString(11, stan)
	}
	resp.SetFieldString(39, "00")
	return Response{Message: resp, ResponseCode: "00", AuthorizationCode: authCode, Status: txn.StatusApproved}
}

// DeclinedResponse builds a decline response with the given response
// code.
func DeclinedResponse(req Request, code string) Response {
	resp := iso8583.NewMessage(responseMTI(req.Message.MTI), nil)
	if stan, ok := req.Message.STAN(); ok {
		resp.SetFieldString(11, stan)
	}
	resp.SetFieldString(39, code)
	return Response{Message: resp, ResponseCode: code, Status: txn.StatusDeclined}
}

// responseMTI derives the 0x10-class response MTI from a request MTI
// (e.g. 0200 -> 0210, 0800 -> 0810), the conventional ISO-8583 pairing.
func responseMTI(requestMTI string) string {
	if len(requestMTI) != 4 {
		return requestMTI
	}
	b := []byte(requestMTI)
	b[2] = '1'
	return string(b)
}
