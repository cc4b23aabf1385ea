package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"ticketing/src/types"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const mpesaTimestampFormat = "20060102150405"

type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
}

// Mpesa talks to the Daraja STK push API.
type Mpesa struct {
	cfg    MpesaConfig
	client *http.Client
	now    func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func NewMpesa(cfg MpesaConfig, client *http.Client) *Mpesa {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Mpesa{cfg: cfg, client: client, now: time.Now}
}

func (m *Mpesa) Name() types.Provider { return types.MPESA }

func (m *Mpesa) accessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" && m.now().Before(m.tokenExp) {
		return m.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(m.cfg.ConsumerKey, m.cfg.ConsumerSecret)
	body, err := m.do(req)
	if err != nil {
		return "", err
	}
	token := gjson.GetBytes(body, "access_token").String()
	if token == "" {
		return "", fmt.Errorf("%w: no access token issued", ErrRejected)
	}
	expiresIn, _ := strconv.Atoi(gjson.GetBytes(body, "expires_in").String())
	if expiresIn <= 60 {
		expiresIn = 3599
	}
	m.token = token
	m.tokenExp = m.now().Add(time.Duration(expiresIn-60) * time.Second)
	return token, nil
}

func (m *Mpesa) password(ts string) string {
	return base64.StdEncoding.EncodeToString([]byte(m.cfg.Shortcode + m.cfg.Passkey + ts))
}

func (m *Mpesa) post(ctx context.Context, path string, payload map[string]any) ([]byte, error) {
	token, err := m.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return m.do(req)
}

func (m *Mpesa) do(req *http.Request) ([]byte, error) {
	res, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 500 {
		return nil, fmt.Errorf("mpesa %s: status %d", req.URL.Path, res.StatusCode)
	}
	if res.StatusCode >= 400 && !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: status %d", ErrRejected, res.StatusCode)
	}
	return body, nil
}

func (m *Mpesa) Initiate(ctx context.Context, r InitiateRequest) (*Session, error) {
	ts := m.now().Format(mpesaTimestampFormat)
	body, err := m.post(ctx, "/mpesa/stkpush/v1/processrequest", map[string]any{
		"BusinessShortCode": m.cfg.Shortcode,
		"Password":          m.password(ts),
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            r.Amount.Ceil().IntPart(),
		"PartyA":            r.Phone,
		"PartyB":            m.cfg.Shortcode,
		"PhoneNumber":       r.Phone,
		"CallBackURL":       m.cfg.CallbackURL + "?provider=" + string(types.MPESA),
		"AccountReference":  r.Number,
		"TransactionDesc":   r.Description,
	})
	if err != nil {
		return nil, err
	}
	result := gjson.ParseBytes(body)
	if code := result.Get("ResponseCode").String(); code != "0" {
		msg := result.Get("errorMessage").String()
		if msg == "" {
			msg = result.Get("ResponseDescription").String()
		}
		return nil, fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	checkoutID := result.Get("CheckoutRequestID").String()
	if checkoutID == "" {
		return nil, fmt.Errorf("%w: missing CheckoutRequestID", ErrRejected)
	}
	return &Session{SessionID: checkoutID}, nil
}

// VerifyCallback parses an STK push result. Daraja does not sign callbacks,
// so the CheckoutRequestID is the only binding to a payment.
func (m *Mpesa) VerifyCallback(_ context.Context, body []byte, _ http.Header) (*Callback, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("mpesa callback is not valid JSON")
	}
	stk := gjson.GetBytes(body, "Body.stkCallback")
	checkoutID := stk.Get("CheckoutRequestID").String()
	if !stk.Exists() || checkoutID == "" {
		return nil, errors.New("mpesa callback has no CheckoutRequestID")
	}
	raw := types.JSONB{}
	_ = json.Unmarshal(body, &raw)

	cb := &Callback{SessionID: checkoutID, Raw: raw}
	if stk.Get("ResultCode").Int() != 0 {
		cb.Reason = stk.Get("ResultDesc").String()
		return cb, nil
	}
	items := stk.Get("CallbackMetadata.Item")
	amount := items.Get(`#(Name=="Amount").Value`)
	if !amount.Exists() {
		return nil, errors.New("mpesa callback has no amount")
	}
	cb.Succeeded = true
	cb.AmountKnown = true
	cb.ObservedAmount = decimal.NewFromFloat(amount.Float())
	cb.TransactionID = items.Get(`#(Name=="MpesaReceiptNumber").Value`).String()
	return cb, nil
}

func (m *Mpesa) Search(ctx context.Context, r SearchRequest) (*Callback, error) {
	ts := m.now().Format(mpesaTimestampFormat)
	body, err := m.post(ctx, "/mpesa/stkpushquery/v1/query", map[string]any{
		"BusinessShortCode": m.cfg.Shortcode,
		"Password":          m.password(ts),
		"Timestamp":         ts,
		"CheckoutRequestID": r.Reference,
	})
	if err != nil {
		return nil, err
	}
	result := gjson.ParseBytes(body)
	if result.Get("errorCode").Exists() {
		// still being processed on the handset
		log.Printf("[Mpesa] Query for %s pending: %s\n", r.Reference, result.Get("errorMessage").String())
		return nil, nil
	}
	id := r.PaymentID
	cb := &Callback{PaymentID: &id, SessionID: r.Reference}
	if result.Get("ResultCode").String() != "0" {
		cb.Reason = result.Get("ResultDesc").String()
		return cb, nil
	}
	cb.Succeeded = true
	return cb, nil
}
