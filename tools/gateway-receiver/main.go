// gateway-receiver is a local stand-in for the message gateway. Point
// GATEWAY_URL at it to watch outgoing sends during development. Set
// GATEWAY_SECRET to the same value as the server to check signatures.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type message struct {
	Timestamp      string `json:"timestamp"`
	JobID          string `json:"job_id"`
	RecipientID    string `json:"recipient_id"`
	SignatureValid *bool  `json:"signature_valid,omitempty"`
	Body           string `json:"body"`
}

type stats struct {
	Count        int64     `json:"count"`
	LastMessages []message `json:"last_messages"`
	Since        string    `json:"since"`
}

var (
	mu           sync.Mutex
	count        int64
	lastMessages []message
	since        time.Time
	maxStored    = 50
	secret       string
)

func main() {
	since = time.Now().UTC()
	secret = os.Getenv("GATEWAY_SECRET")

	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/send", sendHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		lastMessages = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("gateway-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func sendHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	msg := message{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		JobID:       r.Header.Get("X-MediRemind-Job-ID"),
		RecipientID: r.Header.Get("X-MediRemind-Recipient-ID"),
		Body:        string(body),
	}
	if secret != "" {
		valid := verifySignature(secret, body, r.Header.Get("X-MediRemind-Signature"))
		msg.SignatureValid = &valid
	}

	mu.Lock()
	count++
	lastMessages = append(lastMessages, msg)
	if len(lastMessages) > maxStored {
		lastMessages = lastMessages[len(lastMessages)-maxStored:]
	}
	current := count
	mu.Unlock()

	log.Printf("send received #%d: job=%s recipient=%s", current, msg.JobID, msg.RecipientID)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:        count,
		LastMessages: lastMessages,
		Since:        since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
