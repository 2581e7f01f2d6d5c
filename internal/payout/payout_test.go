package payout

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usdtpay/settlement/internal/models"
)

func testRequest() Request {
	return Request{
		OrderID: "0b6f4c1e-5a4e-4c43-9d1c-6b1d2f9e8a11",
		UserID:  "user-1",
		Amount:  decimal.RequireFromString("9108.00"),
		Bank: models.BankAccount{
			ID:                "bank-1",
			AccountHolderName: "Asha Rao",
			AccountNumber:     "123456789012",
			IFSCCode:          "HDFC0001234",
		},
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"payout.processed"}`)
	sig := Sign(body, "whsec")

	assert.True(t, VerifySignature(body, sig, "whsec"))
	assert.False(t, VerifySignature(body, sig, "other"))
	assert.False(t, VerifySignature([]byte(`{"event":"payout.failed"}`), sig, "whsec"))
	assert.False(t, VerifySignature(body, "not-hex", "whsec"))
	assert.False(t, VerifySignature(body, "", "whsec"))
	assert.False(t, VerifySignature(body, sig, ""))
}

func TestRazorpay_InitiatePayout(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		auth := base64.StdEncoding.EncodeToString([]byte("key_id:key_secret"))
		assert.Equal(t, "Basic "+auth, r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/contacts":
			assert.Equal(t, "user-1", body["reference_id"])
			json.NewEncoder(w).Encode(map[string]string{"id": "cont_1"})
		case "/fund_accounts":
			assert.Equal(t, "cont_1", body["contact_id"])
			json.NewEncoder(w).Encode(map[string]string{"id": "fa_1"})
		case "/payouts":
			assert.Equal(t, float64(910800), body["amount"])
			assert.Equal(t, "IMPS", body["mode"])
			assert.Equal(t, "fa_1", body["fund_account_id"])
			assert.Equal(t, testRequest().OrderID, r.Header.Get("X-Payout-Idempotency"))
			json.NewEncoder(w).Encode(map[string]string{"id": "pout_1", "status": "processing"})
		}
	}))
	defer srv.Close()

	gw := NewRazorpay(RazorpayConfig{BaseURL: srv.URL, KeyID: "key_id", KeySecret: "key_secret", AccountNumber: "2323"}, zerolog.New(io.Discard))

	res, err := gw.InitiatePayout(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, res.Status)
	assert.Equal(t, "pout_1", res.RefID)
	assert.Equal(t, "cont_1", res.ContactID)
	assert.Equal(t, []string{"/contacts", "/fund_accounts", "/payouts"}, calls)
}

func TestRazorpay_ReusesContactAndMapsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/contacts":
			t.Error("contact should be reused")
		case "/fund_accounts":
			json.NewEncoder(w).Encode(map[string]string{"id": "fa_1"})
		case "/payouts":
			json.NewEncoder(w).Encode(map[string]string{"id": "pout_1", "status": "processed", "utr": "UTR123"})
		}
	}))
	defer srv.Close()

	gw := NewRazorpay(RazorpayConfig{BaseURL: srv.URL}, zerolog.New(io.Discard))
	req := testRequest()
	req.Bank.GatewayContactID = "cont_existing"

	res, err := gw.InitiatePayout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "UTR123", res.RefID)
	assert.Equal(t, "cont_existing", res.ContactID)
}

func TestRazorpay_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	gw := NewRazorpay(RazorpayConfig{BaseURL: srv.URL}, zerolog.New(io.Discard))
	_, err := gw.InitiatePayout(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMapRazorpayStatus(t *testing.T) {
	assert.Equal(t, StatusSuccess, mapRazorpayStatus("processed"))
	for _, s := range []string{"reversed", "rejected", "failed"} {
		assert.Equal(t, StatusFailed, mapRazorpayStatus(s), s)
	}
	for _, s := range []string{"queued", "pending", "processing", ""} {
		assert.Equal(t, StatusProcessing, mapRazorpayStatus(s), s)
	}
}

func TestRazorpay_ParseWebhook(t *testing.T) {
	gw := NewRazorpay(RazorpayConfig{}, zerolog.New(io.Discard))

	webhook := func(event, utr string) []byte {
		return []byte(fmt.Sprintf(`{"event":%q,"payload":{"payout":{"entity":{"id":"pout_1","reference_id":"order-1","utr":%q}}}}`, event, utr))
	}

	ev, err := gw.ParseWebhook(webhook("payout.processed", "UTR9"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, ev.Status)
	assert.Equal(t, "order-1", ev.OrderID)
	assert.Equal(t, "UTR9", ev.RefID)

	ev, err = gw.ParseWebhook(webhook("payout.reversed", ""))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, ev.Status)
	assert.Equal(t, "pout_1", ev.RefID)

	_, err = gw.ParseWebhook(webhook("payout.queued", ""))
	assert.ErrorIs(t, err, ErrUnhandledEvent)

	_, err = gw.ParseWebhook([]byte("{"))
	assert.ErrorIs(t, err, ErrMalformedWebhook)
}

func statusReport(t *testing.T, orderID, status string) []byte {
	t.Helper()
	e2e := common.Max35Text(orderID)
	orgTx := common.Max35Text("tx-ref-1")
	sts := pacs_v08.ExternalPaymentTransactionStatus1Code(status)
	doc := pacs002Document{Msg: pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(uuid.New().String()),
			CreDtTm: common.ISODateTime(time.Now()),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{OrgnlEndToEndId: &e2e, OrgnlTxId: &orgTx, TxSts: &sts},
		},
	}}
	body, err := xml.Marshal(doc)
	require.NoError(t, err)
	return append([]byte(xml.Header), body...)
}

func TestISO20022_InitiatePayout(t *testing.T) {
	req := testRequest()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/xml", r.Header.Get("Content-Type"))
		data, _ := io.ReadAll(r.Body)
		assert.True(t, strings.Contains(string(data), "FIToFICstmrCdtTrf"))
		assert.True(t, strings.Contains(string(data), req.OrderID))
		w.Write(statusReport(t, req.OrderID, "ACSC"))
	}))
	defer srv.Close()

	gw := NewISO20022(ISO20022Config{Endpoint: srv.URL, DebtorName: "USDT Pay", DebtorBIC: "USDTINBB"}, zerolog.New(io.Discard))
	res, err := gw.InitiatePayout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "tx-ref-1", res.RefID)
}

func TestISO20022_ParseWebhook(t *testing.T) {
	gw := NewISO20022(ISO20022Config{}, zerolog.New(io.Discard))

	ev, err := gw.ParseWebhook(statusReport(t, "order-1", "RJCT"))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, ev.Status)
	assert.Equal(t, "order-1", ev.OrderID)
	assert.Equal(t, "RJCT", ev.Reason)

	_, err = gw.ParseWebhook(statusReport(t, "order-1", "ACSP"))
	assert.ErrorIs(t, err, ErrUnhandledEvent)

	_, err = gw.ParseWebhook([]byte("<Document>"))
	assert.ErrorIs(t, err, ErrMalformedWebhook)
}

func TestCreatePacs008(t *testing.T) {
	gw := NewISO20022(ISO20022Config{DebtorBIC: "USDTINBB", DebtorName: "USDT Pay"}, zerolog.New(io.Discard))
	req := testRequest()

	doc := gw.CreatePacs008(req)
	require.Len(t, doc.CdtTrfTxInf, 1)
	assert.Equal(t, common.Max35Text(req.OrderID), doc.CdtTrfTxInf[0].PmtId.EndToEndId)
	assert.Equal(t, 9108.0, doc.CdtTrfTxInf[0].IntrBkSttlmAmt.Value)
	assert.Equal(t, common.ActiveCurrencyCode("INR"), doc.GrpHdr.TtlIntrBkSttlmAmt.Ccy)
	assert.Equal(t, common.Max35Text("HDFC0001234"), doc.CdtTrfTxInf[0].CdtrAgt.FinInstnId.ClrSysMmbId.MmbId)
}
