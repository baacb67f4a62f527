package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"

	pubnub "github.com/pubnub/go/v7"

	"seat-booking/models"
)

// BookingConfirmer is the slice of the ledger the listener drives.
type BookingConfirmer interface {
	Confirm(ctx context.Context, bookingID, paymentRef string) (*models.Booking, error)
	Cancel(ctx context.Context, bookingID, reason string) (*models.Booking, error)
}

type Config struct {
	SubscribeKey string
	UUID         string
	Channel      string
	HMACKey      string
}

// Listener consumes the bank's payment notifications and converts
// them into booking confirmations. No payment logic lives here; the
// paymentRef is opaque and passed through.
type Listener struct {
	pn       *pubnub.PubNub
	listener *pubnub.Listener
	ledger   BookingConfirmer
	channel  string
	hmacKey  []byte
	stopChan chan struct{}
}

func NewListener(cfg *Config, ledger BookingConfirmer) *Listener {
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.UUID))
	pnCfg.SubscribeKey = cfg.SubscribeKey

	return &Listener{
		pn:       pubnub.NewPubNub(pnCfg),
		listener: pubnub.NewListener(),
		ledger:   ledger,
		channel:  cfg.Channel,
		hmacKey:  []byte(cfg.HMACKey),
		stopChan: make(chan struct{}),
	}
}

func (l *Listener) Start() {
	l.pn.AddListener(l.listener)
	l.pn.Subscribe().
		Channels([]string{l.channel}).
		Execute()

	go l.loop()
	log.Printf("Payment listener subscribed to %s", l.channel)
}

func (l *Listener) loop() {
	for {
		select {
		case message := <-l.listener.Message:
			l.handleNotification(message)
		case <-l.stopChan:
			return
		}
	}
}

type notification struct {
	BookingID  string `json:"booking_id"`
	PaymentRef string `json:"payment_ref"`
	Status     string `json:"status"`
	Signature  string `json:"signature"`
}

func (l *Listener) handleNotification(message *pubnub.PNMessage) {
	data, ok := message.Message.(map[string]any)
	if !ok {
		return
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("payments: encoding notification: %v", err)
		return
	}
	var n notification
	if err := json.Unmarshal(jsonData, &n); err != nil {
		log.Printf("payments: parsing notification: %v", err)
		return
	}

	if !l.verify(n) {
		log.Printf("payments: rejected notification with bad signature for booking %s", n.BookingID)
		return
	}

	ctx := context.Background()

	switch n.Status {
	case "success":
		if _, err := l.ledger.Confirm(ctx, n.BookingID, n.PaymentRef); err != nil {
			log.Printf("payments: confirming booking %s: %v", n.BookingID, err)
		}
	case "failed":
		if _, err := l.ledger.Cancel(ctx, n.BookingID, "payment_failed"); err != nil {
			log.Printf("payments: cancelling booking %s: %v", n.BookingID, err)
		}
	}
}

// verify checks the bank's HMAC-SHA256 signature over the notification
// fields. An empty key disables verification for development setups.
func (l *Listener) verify(n notification) bool {
	if len(l.hmacKey) == 0 {
		return true
	}
	expected := Hmac256([]byte(fmt.Sprintf("%s|%s|%s", n.BookingID, n.PaymentRef, n.Status)), l.hmacKey)
	return hmac.Equal([]byte(expected), []byte(n.Signature))
}

// Hmac256 generates the hex HMAC-SHA256 digest of body.
func Hmac256(body, key []byte) string {
	hash := hmac.New(sha256.New, key)
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}

func (l *Listener) Shutdown() {
	close(l.stopChan)
	l.pn.UnsubscribeAll()
}
