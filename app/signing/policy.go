package signing

import (
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
)

// ContextPrefix prefixes the signing context of every action.
const ContextPrefix = "https://voltgrid.io/context/relayd/"

// RequestContext returns the signing context of requests of the given action.
func RequestContext(action appmessage.Action) string {
	return ContextPrefix + string(action) + "Request"
}

// ResponseContext returns the signing context of responses to the given
// action.
func ResponseContext(action appmessage.Action) string {
	return ContextPrefix + string(action) + "Response"
}

// VerificationRule selects how messages of a context are verified. An empty
// or "*" Context matches every context and a trailing "*" matches by prefix.
// When KeyPair is set, only signatures made with its key are considered.
type VerificationRule struct {
	Priority int
	Context  string
	Action   VerificationAction
	KeyPair  *KeyPair
}

// SigningRule makes the node sign messages of a context with KeyPair.
type SigningRule struct {
	Priority    int
	Context     string
	KeyPair     *KeyPair
	Name        string
	Description string
}

func contextMatches(pattern, context string) bool {
	switch {
	case pattern == "" || pattern == "*":
		return true
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(context, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == context
	}
}

// Policy holds the verification and signing rules of a node. Rules are kept
// in ascending Priority order, and the first matching rule wins.
type Policy struct {
	lock              sync.RWMutex
	defaultAction     VerificationAction
	verificationRules []VerificationRule
	signingRules      []SigningRule
}

// NewPolicy returns a policy without rules that applies defaultAction.
func NewPolicy(defaultAction VerificationAction) *Policy {
	return &Policy{defaultAction: defaultAction}
}

// DefaultAction is applied when no verification rule matches.
func (p *Policy) DefaultAction() VerificationAction {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.defaultAction
}

// AddVerificationRule adds rule, keeping the rules ordered by priority.
// Rules of equal priority keep their insertion order.
func (p *Policy) AddVerificationRule(rule VerificationRule) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.verificationRules = append(p.verificationRules, rule)
	sort.SliceStable(p.verificationRules, func(i, j int) bool {
		return p.verificationRules[i].Priority < p.verificationRules[j].Priority
	})
}

// AddSigningRule adds rule, keeping the rules ordered by priority.
func (p *Policy) AddSigningRule(rule SigningRule) error {
	if !rule.KeyPair.CanSign() {
		return errors.Errorf("signing rule for context %q has no private key", rule.Context)
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	p.signingRules = append(p.signingRules, rule)
	sort.SliceStable(p.signingRules, func(i, j int) bool {
		return p.signingRules[i].Priority < p.signingRules[j].Priority
	})
	return nil
}

// VerificationRuleFor returns the first rule matching context.
func (p *Policy) VerificationRuleFor(context string) (VerificationRule, bool) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	for _, rule := range p.verificationRules {
		if contextMatches(rule.Context, context) {
			return rule, true
		}
	}
	return VerificationRule{}, false
}

// Verify verifies message under the rule matching context, or under the
// default action when no rule matches.
func (p *Policy) Verify(message appmessage.Signable, context string) (bool, error) {
	rule, ok := p.VerificationRuleFor(context)
	if !ok {
		return Verify(message, context, p.DefaultAction())
	}
	if rule.KeyPair == nil {
		return Verify(message, context, rule.Action)
	}
	publicKey := rule.KeyPair.PublicKey
	return verify(message, context, rule.Action, func(signature *appmessage.Signature) bool {
		return signature.KeyID == publicKey
	})
}

// Sign signs message with every signing rule matching context, in priority
// order, and returns the added signatures.
func (p *Policy) Sign(message appmessage.Signable, context string) ([]*appmessage.Signature, error) {
	p.lock.RLock()
	rules := make([]SigningRule, 0, len(p.signingRules))
	for _, rule := range p.signingRules {
		if contextMatches(rule.Context, context) {
			rules = append(rules, rule)
		}
	}
	p.lock.RUnlock()

	signatures := make([]*appmessage.Signature, 0, len(rules))
	for _, rule := range rules {
		signature, err := Sign(message, context, rule.KeyPair, &SignatureInfo{
			Name:        rule.Name,
			Description: rule.Description,
		})
		if err != nil {
			return nil, err
		}
		signatures = append(signatures, signature)
	}
	return signatures, nil
}

// HasSigningRules reports whether any signing rule matches context.
func (p *Policy) HasSigningRules(context string) bool {
	p.lock.RLock()
	defer p.lock.RUnlock()
	for _, rule := range p.signingRules {
		if contextMatches(rule.Context, context) {
			return true
		}
	}
	return false
}

type policyFile struct {
	DefaultAction VerificationAction     `toml:"defaultAction"`
	Verification  []verificationRuleFile `toml:"verification"`
	Signing       []signingRuleFile      `toml:"signing"`
}

type verificationRuleFile struct {
	Priority  int                `toml:"priority"`
	Context   string             `toml:"context"`
	Action    VerificationAction `toml:"action"`
	Algorithm string             `toml:"algorithm"`
	Encoding  string             `toml:"encoding"`
	PublicKey string             `toml:"publicKey"`
}

type signingRuleFile struct {
	Priority    int    `toml:"priority"`
	Context     string `toml:"context"`
	Algorithm   string `toml:"algorithm"`
	Encoding    string `toml:"encoding"`
	PrivateKey  string `toml:"privateKey"`
	PublicKey   string `toml:"publicKey"`
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

// LoadPolicyFile reads a policy from a TOML file.
func LoadPolicyFile(path string) (*Policy, error) {
	var file policyFile
	_, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed reading policy file %s", path)
	}
	return file.toPolicy()
}

// DecodePolicy parses a policy from TOML text.
func DecodePolicy(text string) (*Policy, error) {
	var file policyFile
	_, err := toml.Decode(text, &file)
	if err != nil {
		return nil, errors.Wrap(err, "failed parsing policy")
	}
	return file.toPolicy()
}

func (f *policyFile) toPolicy() (*Policy, error) {
	policy := NewPolicy(f.DefaultAction)
	for i, ruleFile := range f.Verification {
		rule := VerificationRule{
			Priority: ruleFile.Priority,
			Context:  ruleFile.Context,
			Action:   ruleFile.Action,
		}
		if ruleFile.PublicKey != "" {
			keyPair, err := ParsePublicKey(ruleFile.Algorithm, ruleFile.Encoding, ruleFile.PublicKey)
			if err != nil {
				return nil, errors.Wrapf(err, "verification rule %d", i)
			}
			rule.KeyPair = keyPair
		}
		policy.AddVerificationRule(rule)
	}
	for i, ruleFile := range f.Signing {
		keyPair, err := ParseKeyPair(ruleFile.Algorithm, ruleFile.Encoding, ruleFile.PrivateKey, ruleFile.PublicKey)
		if err != nil {
			return nil, errors.Wrapf(err, "signing rule %d", i)
		}
		err = policy.AddSigningRule(SigningRule{
			Priority:    ruleFile.Priority,
			Context:     ruleFile.Context,
			KeyPair:     keyPair,
			Name:        ruleFile.Name,
			Description: ruleFile.Description,
		})
		if err != nil {
			return nil, err
		}
	}
	log.Infof("Loaded signing policy with %d verification and %d signing rules (default %s)",
		len(f.Verification), len(f.Signing), f.DefaultAction)
	return policy, nil
}
