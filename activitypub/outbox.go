package activitypub

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/util"
)

const activityStreamsContext = "https://www.w3.org/ns/activitystreams"

// response builds an Accept or Reject of the given activity on behalf of a local account
func (e *Engine) response(typ string, local *domain.Account, env *Envelope) map[string]any {
	return map[string]any{
		"@context": activityStreamsContext,
		"id":       e.activityURI(),
		"type":     typ,
		"actor":    local.URI,
		"object": map[string]any{
			"id":     env.Id,
			"type":   env.Type,
			"actor":  env.Actor,
			"object": env.ObjectURI(),
		},
	}
}

// followActivity builds a Follow from a local account
func (e *Engine) followActivity(id string, local, target *domain.Account) map[string]any {
	return map[string]any{
		"@context": activityStreamsContext,
		"id":       id,
		"type":     "Follow",
		"actor":    local.URI,
		"object":   target.URI,
	}
}

// undoActivity wraps an earlier activity of a local account in an Undo
func (e *Engine) undoActivity(local *domain.Account, activity map[string]any) map[string]any {
	return map[string]any{
		"@context": activityStreamsContext,
		"id":       e.activityURI(),
		"type":     "Undo",
		"actor":    local.URI,
		"object":   activity,
	}
}

// KeyId returns the id of the account's main key
func KeyId(acc *domain.Account) string {
	return acc.URI + "#main-key"
}

// payloadDigest returns the Digest header value for a request body
func payloadDigest(payload []byte) string {
	hash := sha256.Sum256(payload)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
}

// SendActivity posts a serialized activity to a remote inbox, signed with the
// local account's key
func SendActivity(ctx context.Context, client HTTPClient, payload []byte, inboxURI string, signer *domain.Account) error {
	privateKey, err := ParsePrivateKey(signer.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inboxURI, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.UserAgent())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", payloadDigest(payload))

	if err := SignRequest(req, privateKey, KeyId(signer)); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	log.Printf("Outbox: Delivered to %s (status: %d)", inboxURI, resp.StatusCode)
	return nil
}
