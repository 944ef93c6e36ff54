// Package pipeline implements the dedup -> validate -> route -> process
// -> audit stage chain: short-circuit on failure except audit,
// which always runs so every outcome is recorded.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/op/go-logging"

	"github.com/nilm987521/fep/iso8583"
	"github.com/nilm987521/fep/metrics"
	"github.com/nilm987521/fep/pan"
	"github.com/nilm987521/fep/processor"
	"github.com/nilm987521/fep/txn"
	"github.com/nilm987521/fep/validate"
)

const (
	// ResponseCodeDuplicate and ResponseCodeNoRoute are the mapped
	// response codes for short-circuited outcomes.
	ResponseCodeDuplicate  = "94"
	ResponseCodeNoRoute    = "96"
	ResponseCodeValidation = "30"
	ResponseCodeFailed     = "96"
)

// Pipeline runs one transaction through the ordered stage chain.
type Pipeline struct {
	Repo          txn.Repository
	Rules         validate.RuleSet
	Router        *processor.Router
	WindowMinutes int
	Log           *logging.Logger
	Metrics       *metrics.Registry
	Vault         *pan.Vault
}

// New builds a Pipeline. log may be nil, in which case audit failures
// are silently swallowed beyond the returned error.
func New(repo txn.Repository, rules validate.RuleSet, router *processor.Router, windowMinutes int, log *logging.Logger) *Pipeline {
	return &Pipeline{Repo: repo, Rules: rules, Router: router, WindowMinutes: windowMinutes, Log: log}
}

// WithMetrics attaches a metrics.Registry so stage durations and final
// transaction statuses are observed as Execute runs. Returns p for
// chaining at construction time.
func (p *Pipeline) WithMetrics(m *metrics.Registry) *Pipeline {
	p.Metrics = m
	return p
}

// WithVault attaches the PAN vault used to encrypt/hash/mask field 2
// before a record is persisted. Without a vault the PAN columns stay
// empty; the cleartext PAN is never written either way.
func (p *Pipeline) WithVault(v *pan.Vault) *Pipeline {
	p.Vault = v
	return p
}

func (p *Pipeline) observeStage(stage string, start time.Time) {
	if p.Metrics == nil {
		return
	}
	p.Metrics.PipelineStage.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Result is what Execute hands back to the caller.
type Result struct {
	Response    *iso8583.Message
	Transaction *txn.Transaction
}

// Execute runs msg through dedup, validation, routing, processing and
// audit, in that order, short-circuiting every stage but audit on the
// first terminal outcome.
func (p *Pipeline) Execute(ctx context.Context, msg *iso8583.Message, txnType string) (Result, error) {
	return p.ExecuteOnChannel(ctx, msg, txnType, "")
}

// ExecuteOnChannel is Execute with the originating channel recorded on
// the transaction.
func (p *Pipeline) ExecuteOnChannel(ctx context.Context, msg *iso8583.Message, txnType, channelID string) (Result, error) {
	rec := p.newRecord(msg, txnType)
	rec.Channel = channelID
	p.transition(rec, txn.StatusPending)

	var resp *iso8583.Message

	rrn, _ := msg.RRN()
	stan, _ := msg.STAN()
	terminalID, _ := msg.FieldString(41)

	// A reversal repeats the original's RRN/STAN/terminal triple; its
	// replay protection is the original's reversible-state check, not the
	// duplicate window.
	dup := false
	if txnType != processor.TypeReversal {
		dedupStart := time.Now()
		dup = p.dedupHit(ctx, rrn, stan, terminalID)
		p.observeStage("dedup", dedupStart)
	}

	switch {
	case dup:
		resp = p.shortCircuit(msg, ResponseCodeDuplicate)
		rec.ResponseCode = ResponseCodeDuplicate
		p.transition(rec, txn.StatusDeclined)

	default:
		validateStart := time.Now()
		outcome := validate.Evaluate(p.Rules, msg)
		p.observeStage("validate", validateStart)
		if !outcome.Passed() {
			resp = p.shortCircuit(msg, ResponseCodeValidation)
			rec.ResponseCode = ResponseCodeValidation
			rec.ErrorDetails = outcome.Errors[0].Message
			p.transition(rec, txn.StatusFailed)
			break
		}

		p.transition(rec, txn.StatusProcessing)
		routeStart := time.Now()
		proc, err := p.Router.Route(txnType)
		p.observeStage("route", routeStart)
		if err != nil {
			resp = p.shortCircuit(msg, ResponseCodeNoRoute)
			rec.ResponseCode = ResponseCodeNoRoute
			p.transition(rec, txn.StatusFailed)
			break
		}

		p.transition(rec, txn.StatusSentToHost)
		processStart := time.Now()
		procResp, err := proc.Process(ctx, processor.Request{Message: msg, Transaction: rec})
		p.observeStage("process", processStart)
		if err != nil {
			resp = p.shortCircuit(msg, ResponseCodeFailed)
			rec.ResponseCode = ResponseCodeFailed
			rec.ErrorDetails = err.Error()
			p.transition(rec, txn.StatusFailed)
			break
		}

		resp = procResp.Message
		rec.ResponseCode = procResp.ResponseCode
		rec.AuthorizationCode = procResp.AuthorizationCode
		p.transition(rec, procResp.Status)
	}

	if err := p.audit(ctx, rec, resp); err != nil {
		return Result{Response: resp, Transaction: rec}, err
	}
	return Result{Response: resp, Transaction: rec}, nil
}

// transition applies next to rec and logs a rejected move; an illegal
// transition is a defect in the stage chain.
func (p *Pipeline) transition(rec *txn.Transaction, next txn.Status) {
	if err := rec.Transition(next); err != nil {
		p.logf("%v", err)
	}
}

func (p *Pipeline) dedupHit(ctx context.Context, rrn, stan, terminalID string) bool {
	dup, err := p.Repo.IsDuplicate(ctx, rrn, stan, terminalID, p.WindowMinutes)
	if err != nil {
		p.logf("isDuplicate check failed: %v", err)
		return false
	}
	return dup
}

func (p *Pipeline) shortCircuit(req *iso8583.Message, code string) *iso8583.Message {
	resp := iso8583.NewMessage(responseMTI(req.MTI), nil)
	if stan, ok := req.STAN(); ok {
		resp.SetFieldString(11, stan)
	}
	resp.SetFieldString(39, code)
	return resp
}

func responseMTI(requestMTI string) string {
	if len(requestMTI) != 4 {
		return requestMTI
	}
	b := []byte(requestMTI)
	b[2] = '1'
	return string(b)
}

// audit persists the record and forwards the outcome to the audit
// logger, unconditionally. A repository failure here is
// escalated: it is logged and returned to the caller alongside the
// response; the socket stays alive.
func (p *Pipeline) audit(ctx context.Context, rec *txn.Transaction, resp *iso8583.Message) error {
	rec.RespondedAt = time.Now()
	rec.ProcessingTimeMS = rec.RespondedAt.Sub(rec.RequestedAt).Milliseconds()
	auditStart := time.Now()
	if err := p.Repo.Save(ctx, rec); err != nil {
		p.logf("audit: save failed for %s: %v", rec.TransactionID, err)
		return fmt.Errorf("pipeline: audit save %s: %w", rec.TransactionID, err)
	}
	p.observeStage("audit", auditStart)
	if p.Metrics != nil {
		p.Metrics.TransactionStatus.WithLabelValues(string(rec.CurrentStatus())).Inc()
	}
	p.logf("audit: %s type=%s status=%s responseCode=%s", rec.TransactionID, rec.Type, rec.CurrentStatus(), rec.ResponseCode)
	return nil
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.Log == nil {
		return
	}
	p.Log.Warning(fmt.Sprintf(format, args...))
}

func (p *Pipeline) newRecord(msg *iso8583.Message, txnType string) *txn.Transaction {
	rrn, _ := msg.RRN()
	stan, _ := msg.STAN()
	terminalID, _ := msg.FieldString(41)
	merchantID, _ := msg.FieldString(42)
	acquirer, _ := msg.FieldString(32)
	procCode, _ := msg.FieldString(3)
	currency, _ := msg.FieldString(49)
	// Field 90 carries the original transaction id on a reversal; it has
	// to land on the record here so the audit stage persists it.
	originalID, _ := msg.FieldString(90)
	now := time.Now()
	rec := &txn.Transaction{
		TransactionID:         uuid.NewString(),
		OriginalTransactionID: originalID,
		Type:                  txnType,
		ProcessingCode:        procCode,
		Currency:              currency,
		TerminalID:            terminalID,
		MerchantID:            merchantID,
		AcquiringBank:         acquirer,
		STAN:                  stan,
		RRN:                   rrn,
		RequestedAt:           now,
		TransactionDate:       now.Format("2006-01-02"),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if amt, ok := msg.FieldString(4); ok {
		if n, err := strconv.ParseInt(strings.TrimLeft(amt, "0"), 10, 64); err == nil {
			rec.Amount = n
		} else if strings.Trim(amt, "0") == "" {
			rec.Amount = 0
		}
	}
	p.protectPAN(rec, msg)
	return rec
}

// protectPAN fills the record's PAN columns from field 2. The cleartext
// never lands on the record: with no vault configured the columns stay
// empty.
func (p *Pipeline) protectPAN(rec *txn.Transaction, msg *iso8583.Message) {
	cleartext, ok := msg.FieldString(2)
	if !ok || cleartext == "" || p.Vault == nil {
		return
	}
	enc, err := p.Vault.Encrypt(cleartext)
	if err != nil {
		p.logf("pan encrypt failed for %s: %v", rec.TransactionID, err)
		return
	}
	rec.EncryptedPAN = enc
	rec.PANHash = p.Vault.Hash(cleartext)
	rec.MaskedPAN = pan.Mask(cleartext)
}
