package web

import (
	"encoding/json"
	"log"

	"github.com/deemkeen/tusk/util"
)

// NodeInfo20 represents the NodeInfo 2.0 schema
// See: https://nodeinfo.diaspora.software/schema.html
type NodeInfo20 struct {
	Version           string           `json:"version"`
	Software          NodeInfoSoftware `json:"software"`
	Protocols         []string         `json:"protocols"`
	Services          NodeInfoServices `json:"services"`
	OpenRegistrations bool             `json:"openRegistrations"`
	Usage             NodeInfoUsage    `json:"usage"`
	Metadata          NodeInfoMetadata `json:"metadata"`
}

type NodeInfoSoftware struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type NodeInfoServices struct {
	Inbound  []string `json:"inbound"`
	Outbound []string `json:"outbound"`
}

type NodeInfoUsage struct {
	Users      NodeInfoUsers `json:"users"`
	LocalPosts int           `json:"localPosts"`
}

type NodeInfoUsers struct {
	Total int `json:"total"`
}

type NodeInfoMetadata struct {
	NodeName     string `json:"nodeName"`
	KnownDomains int    `json:"knownDomains"`
}

// WellKnownNodeInfo represents the /.well-known/nodeinfo response
type WellKnownNodeInfo struct {
	Links []NodeInfoLink `json:"links"`
}

type NodeInfoLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// InstanceStats is the subset of the database nodeinfo reports on
type InstanceStats interface {
	CountLocalAccounts() (int, error)
	CountLocalStatuses() (int, error)
	CountKnownDomains() (int, error)
}

// GetNodeInfo20 returns a NodeInfo 2.0 document. Counting errors are logged
// and reported as zero.
func GetNodeInfo20(stats InstanceStats, conf *util.AppConfig) NodeInfo20 {
	totalUsers, err := stats.CountLocalAccounts()
	if err != nil {
		log.Printf("Failed to count accounts: %v", err)
	}
	localPosts, err := stats.CountLocalStatuses()
	if err != nil {
		log.Printf("Failed to count local posts: %v", err)
	}
	knownDomains, err := stats.CountKnownDomains()
	if err != nil {
		log.Printf("Failed to count known domains: %v", err)
	}

	return NodeInfo20{
		Version: "2.0",
		Software: NodeInfoSoftware{
			Name:    util.Name,
			Version: util.GetVersion(),
		},
		Protocols: []string{"activitypub"},
		Services: NodeInfoServices{
			Inbound:  []string{},
			Outbound: []string{},
		},
		Usage: NodeInfoUsage{
			Users:      NodeInfoUsers{Total: totalUsers},
			LocalPosts: localPosts,
		},
		Metadata: NodeInfoMetadata{
			NodeName:     conf.Conf.SslDomain,
			KnownDomains: knownDomains,
		},
	}
}

// GetWellKnownNodeInfo returns the /.well-known/nodeinfo discovery document
func GetWellKnownNodeInfo(conf *util.AppConfig) string {
	wellKnown := WellKnownNodeInfo{
		Links: []NodeInfoLink{
			{
				Rel:  "http://nodeinfo.diaspora.software/ns/schema/2.0",
				Href: "https://" + conf.Conf.SslDomain + "/nodeinfo/2.0",
			},
		},
	}

	jsonBytes, err := json.Marshal(wellKnown)
	if err != nil {
		log.Printf("Failed to marshal well-known nodeinfo: %v", err)
		return "{}"
	}

	return string(jsonBytes)
}
