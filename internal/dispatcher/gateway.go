package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Breaker guards the gateway endpoint against hammering a dead upstream.
// Satisfied by circuitbreaker.CircuitBreaker.
type Breaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

// gatewayPayload is the message body posted to the WhatsApp gateway.
type gatewayPayload struct {
	JobID        string `json:"job_id"`
	RecipientID  string `json:"recipient_id"`
	Phone        string `json:"phone"`
	PatientName  string `json:"patient_name"`
	TemplateName string `json:"template_name,omitempty"`
	Body         string `json:"body"`
}

type HTTPGatewaySender struct {
	client  *http.Client
	url     string
	secret  string
	timeout time.Duration
	breaker Breaker // optional, nil = disabled
}

// DefaultSendTimeout bounds one gateway round trip.
const DefaultSendTimeout = 15 * time.Second

func NewHTTPGatewaySender(url, secret string, timeout time.Duration) *HTTPGatewaySender {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &HTTPGatewaySender{
		client:  &http.Client{},
		url:     url,
		secret:  secret,
		timeout: timeout,
	}
}

// WithBreaker attaches a circuit breaker to the sender.
func (s *HTTPGatewaySender) WithBreaker(b Breaker) *HTTPGatewaySender {
	s.breaker = b
	return s
}

// Send posts the message with HMAC signature.
// Headers: X-MediRemind-Job-ID, X-MediRemind-Recipient-ID, X-MediRemind-Signature
func (s *HTTPGatewaySender) Send(ctx context.Context, req SendRequest) SendResult {
	start := time.Now()

	if s.breaker != nil {
		if err := s.breaker.Allow(s.url); err != nil {
			return SendResult{Error: err, Duration: time.Since(start)}
		}
	}

	body, err := json.Marshal(gatewayPayload{
		JobID:        req.JobID.String(),
		RecipientID:  req.RecipientID.String(),
		Phone:        req.Phone,
		PatientName:  req.PatientName,
		TemplateName: req.TemplateName,
		Body:         req.TemplateBody,
	})
	if err != nil {
		return SendResult{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	signature := computeSignature(s.secret, body)

	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return SendResult{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-MediRemind-Job-ID", req.JobID.String())
	httpReq.Header.Set("X-MediRemind-Recipient-ID", req.RecipientID.String())
	httpReq.Header.Set("X-MediRemind-Signature", signature)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if s.breaker != nil {
			s.breaker.RecordFailure(s.url)
		}
		return SendResult{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	result := SendResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
	if s.breaker != nil {
		if result.IsSuccess() {
			s.breaker.RecordSuccess(s.url)
		} else {
			s.breaker.RecordFailure(s.url)
		}
	}
	return result
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature lets the gateway side verify an incoming request.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
