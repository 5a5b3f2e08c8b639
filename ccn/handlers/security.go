package handlers

import (
	"github.com/pkg/errors"

	"github.com/aleph-im/go-aleph/ccn/db/iface"
	"github.com/aleph-im/go-aleph/ccn/types"
)

// securityAggregateKey is the aggregate key under which an address
// publishes its delegations.
const securityAggregateKey = "security"

// Authorization is one delegation entry of a security aggregate. An absent
// filter is a wildcard.
type Authorization struct {
	Address       string   `json:"address"`
	Chain         string   `json:"chain,omitempty"`
	Channels      []string `json:"channels,omitempty"`
	Types         []string `json:"types,omitempty"`
	PostTypes     []string `json:"post_types,omitempty"`
	AggregateKeys []string `json:"aggregate_keys,omitempty"`
}

type securityContent struct {
	Authorizations []Authorization `json:"authorizations"`
}

// AuthorizationScope is what the sender is trying to do on behalf of the
// owner, matched against the delegation filters.
type AuthorizationScope struct {
	Type         types.MessageType
	Chain        types.Chain
	Channel      string
	PostType     string
	AggregateKey string
}

// IsAuthorized reports whether sender may act for owner within scope,
// per the owner's security aggregate. The owner is always authorized for
// itself.
func IsAuthorized(txn iface.Txn, owner, sender string, scope AuthorizationScope) (bool, error) {
	if owner == sender {
		return true, nil
	}
	agg, err := txn.Aggregate(owner, securityAggregateKey)
	if err != nil {
		if errors.Is(err, iface.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	var security securityContent
	if err := json.Unmarshal(agg.Content, &security); err != nil {
		log.WithError(err).WithField("owner", owner).Warn("Unreadable security aggregate, denying delegation")
		return false, nil
	}
	for _, auth := range security.Authorizations {
		if auth.matches(sender, scope) {
			return true, nil
		}
	}
	return false, nil
}

func (a *Authorization) matches(sender string, scope AuthorizationScope) bool {
	if a.Address != sender {
		return false
	}
	if a.Chain != "" && a.Chain != string(scope.Chain) {
		return false
	}
	if len(a.Channels) > 0 && !contains(a.Channels, scope.Channel) {
		return false
	}
	if len(a.Types) > 0 && !contains(a.Types, string(scope.Type)) {
		return false
	}
	if scope.Type == types.PostType && len(a.PostTypes) > 0 && !contains(a.PostTypes, scope.PostType) {
		return false
	}
	if scope.Type == types.AggregateType && len(a.AggregateKeys) > 0 && !contains(a.AggregateKeys, scope.AggregateKey) {
		return false
	}
	return true
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
