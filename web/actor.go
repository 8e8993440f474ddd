package web

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deemkeen/tusk/domain"
	"github.com/deemkeen/tusk/util"
)

type action uint

const (
	id action = iota
	inbox
	outbox
	followers
	featured
	sharedInbox
)

func getIRI(domain string, username string, action action) string {
	prefix := fmt.Sprintf("https://%s/users/%s", domain, username)
	switch action {
	case inbox:
		return prefix + "/inbox"
	case outbox:
		return prefix + "/outbox"
	case followers:
		return prefix + "/followers"
	case featured:
		return prefix + "/collections/featured"
	case id:
		return prefix
	case sharedInbox:
		return fmt.Sprintf("https://%s/inbox", domain)
	default:
		return ""
	}
}

// GetActor renders the actor document of a local account. Remote servers
// fetch it to discover the inbox and the key that signs our deliveries.
func GetActor(acc *domain.Account, conf *util.AppConfig) ([]byte, error) {
	d := conf.Conf.SslDomain
	username := acc.Username

	displayName := acc.DisplayName
	if displayName == "" {
		displayName = username
	}
	actorType := acc.ActorType
	if actorType == "" {
		actorType = domain.ActorPerson
	}
	if acc.InstanceActor {
		actorType = domain.ActorApplication
	}

	uri := acc.URI
	if uri == "" {
		uri = getIRI(d, username, id)
	}
	inboxURI := acc.InboxURI
	if inboxURI == "" {
		inboxURI = getIRI(d, username, inbox)
	}

	actor := map[string]any{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                        uri,
		"type":                      actorType,
		"preferredUsername":         username,
		"name":                      displayName,
		"inbox":                     inboxURI,
		"outbox":                    getIRI(d, username, outbox),
		"followers":                 getIRI(d, username, followers),
		"featured":                  getIRI(d, username, featured),
		"url":                       uri,
		"manuallyApprovesFollowers": acc.Locked,
		"discoverable":              !acc.InstanceActor,
		"endpoints": map[string]string{
			"sharedInbox": getIRI(d, username, sharedInbox),
		},
		"publicKey": map[string]string{
			"id":           uri + "#main-key",
			"owner":        uri,
			"publicKeyPem": acc.PublicKeyPem,
		},
	}
	if len(acc.AlsoKnownAs) > 0 {
		actor["alsoKnownAs"] = acc.AlsoKnownAs
	}

	return json.Marshal(actor)
}

// GetWebfinger answers acct:user@domain lookups for local accounts
func GetWebfinger(acc *domain.Account, conf *util.AppConfig) ([]byte, error) {
	uri := acc.URI
	if uri == "" {
		uri = getIRI(conf.Conf.SslDomain, acc.Username, id)
	}
	return json.Marshal(map[string]any{
		"subject": fmt.Sprintf("acct:%s@%s", acc.Username, conf.Conf.SslDomain),
		"aliases": []string{uri},
		"links": []map[string]string{
			{
				"rel":  "self",
				"type": "application/activity+json",
				"href": uri,
			},
		},
	})
}

// parseWebfingerResource extracts the username from acct:user@domain,
// rejecting other domains
func parseWebfingerResource(resource, localDomain string) (string, bool) {
	resource = strings.TrimPrefix(resource, "acct:")
	username, host, found := strings.Cut(resource, "@")
	if !found || !strings.EqualFold(host, localDomain) {
		return "", false
	}
	if ok, _ := util.IsValidWebFingerUsername(username); !ok {
		return "", false
	}
	return username, true
}
