package telegram

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/mymmrac/telego"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// Webhook receives updates pushed by Telegram.
type Webhook struct {
	provider *Provider
	secret   string
}

func NewWebhook(p *Provider, secret string) *Webhook {
	return &Webhook{provider: p, secret: secret}
}

func (wh *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if wh.secret != "" {
		got := r.Header.Get(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(wh.secret)) != 1 {
			wh.provider.log.Warn("rejected webhook call with invalid secret", "remote_addr", r.RemoteAddr)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	var u telego.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		wh.provider.log.Debug("error decoding update", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	wh.provider.HandleUpdate(r.Context(), u)

	// Telegram retries anything but 2xx, failures were already answered in chat
	w.WriteHeader(http.StatusOK)
}
