package exchange

import "crypto/sha256"

// topicKeyDomainSeparator matches the legacy derive_topic_key scheme:
// SHA-256("umbra-topic-key-v0.2" || topic). Deriving a symmetric key
// from a public topic name alone gives any passive observer who knows
// the topic the key, so this path is off by default and exists purely
// for interop with older deployments (spec.md §6, SPEC_FULL.md
// Supplemented Features).
const topicKeyDomainSeparator = "umbra-topic-key-v0.2"

// DeriveTopicKey reproduces the legacy fallback key for topic. Callers
// must gate use of this behind AllowTopicKeyFallback; it is never
// reached from Encrypt/Decrypt.
func DeriveTopicKey(topic string) [32]byte {
	h := sha256.New()
	h.Write([]byte(topicKeyDomainSeparator))
	h.Write([]byte(topic))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// TopicExchange pairs an Exchange with a topic name and the
// AllowTopicKeyFallback opt-in flag. It defines no methods of its own:
// Encrypt and Decrypt called through it are the embedded Exchange's and
// use the per-peer session key (or the provisional per-peer fallback)
// whatever the flag says; nothing here seals or opens with
// DeriveTopicKey.
type TopicExchange struct {
	*Exchange
	Topic                 string
	AllowTopicKeyFallback bool
}

// NewTopicExchange wraps an Exchange with the legacy topic-key opt-in.
func NewTopicExchange(e *Exchange, topic string, allow bool) *TopicExchange {
	return &TopicExchange{Exchange: e, Topic: topic, AllowTopicKeyFallback: allow}
}
