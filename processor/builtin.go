package processor

import (
	"context"

	"github.com/nilm987521/fep/iso8583"
)

// Transaction type identifiers for the default processor set.
const (
	TypeWithdrawal         = "WITHDRAWAL"
	TypeDeposit            = "DEPOSIT"
	TypeTransfer           = "TRANSFER"
	TypeBalanceInquiry     = "BALANCE_INQUIRY"
	TypeReversal           = "REVERSAL"
	TypeP2P                = "P2P"
	TypeBillPayment        = "BILL_PAYMENT"
	TypeETicketTopUp       = "E_TICKET_TOP_UP"
	TypeTaiwanPay          = "TAIWAN_PAY"
	TypeCardlessWithdrawal = "CARDLESS_WITHDRAWAL"
	TypeCrossBorderPayment = "CROSS_BORDER_PAYMENT"
	TypeCurrencyExchange   = "CURRENCY_EXCHANGE"
	TypeEWallet            = "E_WALLET"
)

// simpleProcessor is the shared shape for every default processor: each
// supports exactly one transaction type and approves unconditionally,
// since downstream host approval lives outside this core. Every entry of
// Defaults, reversal included, uses this helper; a processor needing
// different behavior implements Processor directly.
type simpleProcessor struct {
	txnType  string
	authCode string
}

func (p simpleProcessor) Supports(txnType string) bool { return txnType == p.txnType }

func (p simpleProcessor) Process(ctx context.Context, req Request) (Response, error) {
	return ApprovedResponse(req, p.authCode), nil
}

// Defaults returns one Processor per default transaction type.
// The reversal entry is invoked only via the reversal package, which
// drives the pipeline with TypeReversal after locating and validating
// the original transaction; the router treats it like any other type.
func Defaults() []Processor {
	types := []string{
		TypeWithdrawal, TypeDeposit, TypeTransfer, TypeBalanceInquiry, TypeReversal,
		TypeP2P, TypeBillPayment, TypeETicketTopUp, TypeTaiwanPay,
		TypeCardlessWithdrawal, TypeCrossBorderPayment, TypeCurrencyExchange, TypeEWallet,
	}
	out := make([]Processor, 0, len(types))
	for _, t := range types {
		out = append(out, simpleProcessor{txnType: t, authCode: "AUTH" + t[:min(4, len(t))]})
	}
	return out
}

// DeriveType maps an inbound request to its transaction type: reversal
// MTIs first, then the leading two digits of the processing code
// (field 3). An unrecognized message yields "", which the router rejects
// with ErrNoRoute.
func DeriveType(msg *iso8583.Message) string {
	if msg.MTI == "0400" || msg.MTI == "0420" {
		return TypeReversal
	}
	pc, ok := msg.FieldString(3)
	if !ok || len(pc) < 2 {
		return ""
	}
	switch pc[:2] {
	case "01":
		return TypeWithdrawal
	case "21":
		return TypeDeposit
	case "31":
		return TypeBalanceInquiry
	case "40":
		return TypeTransfer
	case "26":
		return TypeP2P
	case "50":
		return TypeBillPayment
	case "57":
		return TypeETicketTopUp
	case "58":
		return TypeTaiwanPay
	case "60":
		return TypeCardlessWithdrawal
	case "70":
		return TypeCrossBorderPayment
	case "71":
		return TypeCurrencyExchange
	case "72":
		return TypeEWallet
	default:
		return ""
	}
}

// Router picks a Processor for a transaction type.
type Router struct {
	processors []Processor
}

// NewRouter builds a Router over the given processors, tried in order.
func NewRouter(processors ...Processor) *Router {
	return &Router{processors: processors}
}

// ErrNoRoute is returned when no processor supports the transaction
// type.
var ErrNoRoute = noRouteError{}

type noRouteError struct{}

func (noRouteError) Error() string { return "processor: no route for transaction type" }

// Route selects the first processor supporting txnType.
func (r *Router) Route(txnType string) (Processor, error) {
	for _, p := range r.processors {
		if p.Supports(txnType) {
			return p, nil
		}
	}
	return nil, ErrNoRoute
}
