package payout

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/rs/zerolog"
)

type ISO20022Config struct {
	Endpoint   string
	DebtorName string
	DebtorBIC  string
	Timeout    time.Duration
}

type pacs008Document struct {
	XMLName xml.Name                                  `xml:"urn:iso:std:iso:20022:tech:xsd:pacs.008.001.08 Document"`
	Msg     *pacs_v08.FIToFICustomerCreditTransferV08 `xml:"FIToFICstmrCdtTrf"`
}

type pacs002Document struct {
	XMLName xml.Name                              `xml:"Document"`
	Msg     pacs_v08.FIToFIPaymentStatusReportV08 `xml:"FIToFIPmtStsRpt"`
}

// ISO20022 sends pacs.008 credit transfers host-to-host and reads pacs.002
// status reports, both synchronously and as webhooks.
type ISO20022 struct {
	cfg        ISO20022Config
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
}

func NewISO20022(cfg ISO20022Config, logger zerolog.Logger) *ISO20022 {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &ISO20022{cfg: cfg, httpClient: &http.Client{Timeout: timeout}, logger: logger, now: time.Now}
}

func (g *ISO20022) Name() string { return "iso20022" }

func (g *ISO20022) InitiatePayout(ctx context.Context, req Request) (*Result, error) {
	doc := pacs008Document{Msg: g.CreatePacs008(req)}
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal XML: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(append([]byte(xml.Header), body...)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/xml")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: bank returned %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bank returned %d: %s", resp.StatusCode, string(data))
	}

	event, err := g.parseStatusReport(data)
	if err != nil {
		return nil, err
	}
	g.logger.Info().Str("order_id", req.OrderID).Str("status", string(event.Status)).Msg("pacs.008 submitted")
	return &Result{Status: event.Status, RefID: event.RefID, Reason: event.Reason}, nil
}

// ParseWebhook reads an asynchronous pacs.002 pushed by the bank.
func (g *ISO20022) ParseWebhook(body []byte) (*Event, error) {
	event, err := g.parseStatusReport(body)
	if err != nil {
		return nil, err
	}
	if event.Status == StatusProcessing {
		return nil, fmt.Errorf("%w: non-final status %s", ErrUnhandledEvent, event.Reason)
	}
	return event, nil
}

func (g *ISO20022) parseStatusReport(data []byte) (*Event, error) {
	var doc pacs002Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if len(doc.Msg.TxInfAndSts) == 0 {
		return nil, fmt.Errorf("%w: no transaction status", ErrMalformedWebhook)
	}

	tx := doc.Msg.TxInfAndSts[0]
	if tx.OrgnlEndToEndId == nil || *tx.OrgnlEndToEndId == "" {
		return nil, fmt.Errorf("%w: missing end-to-end id", ErrMalformedWebhook)
	}
	code := ""
	if tx.TxSts != nil {
		code = string(*tx.TxSts)
	}
	refID := string(doc.Msg.GrpHdr.MsgId)
	if tx.OrgnlTxId != nil {
		refID = string(*tx.OrgnlTxId)
	}

	return &Event{
		OrderID: string(*tx.OrgnlEndToEndId),
		RefID:   refID,
		Status:  mapISOStatus(code),
		Reason:  code,
	}, nil
}

// ACSC/ACCC settled, RJCT rejected; ACCP, ACSP, PDNG and the rest are in flight.
func mapISOStatus(code string) Status {
	switch code {
	case "ACSC", "ACCC":
		return StatusSuccess
	case "RJCT", "CANC":
		return StatusFailed
	default:
		return StatusProcessing
	}
}

// CreatePacs008 builds the FIToFICustomerCreditTransfer for one payout.
// The order id travels as EndToEndId so status reports map back to the order.
func (g *ISO20022) CreatePacs008(req Request) *pacs_v08.FIToFICustomerCreditTransferV08 {
	msgID := uuid.New().String()
	now := g.now()
	amount := req.Amount.InexactFloat64()
	txID := common.Max35Text(msgID[:35])

	return &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   "INR",
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&now),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &txID,
					EndToEndId: common.Max35Text(req.OrderID),
					TxId:       &txID,
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   "INR",
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&now),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(g.cfg.DebtorBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(g.cfg.DebtorName)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(req.Bank.IFSCCode),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(req.Bank.AccountHolderName)}[0],
				},
			},
		},
	}
}
