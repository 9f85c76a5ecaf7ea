package validator

import "github.com/nullbind/spafwd/internal/policy"

// Kind discriminates the three outcomes a validation step may produce,
// replacing the KEEP_SEARCHING/STOP_SEARCHING int sentinels with an
// explicit, exhaustively-matched tag (Design Notes).
type Kind int

const (
	KindAccept Kind = iota
	KindKeep
	KindStop
)

// Verdict is the sum-typed result every validation helper returns
// directly, rather than threading a mutable output parameter through
// several layers of calls (Design Notes).
type Verdict struct {
	Kind    Kind
	Stanza  *policy.AccessStanza
	Decoded DecodedMessage
	Reason  error
}

// Accept builds an accepting verdict carrying the matched stanza and the
// decoded message the dispatcher needs.
func Accept(stanza *policy.AccessStanza, decoded DecodedMessage) Verdict {
	return Verdict{Kind: KindAccept, Stanza: stanza, Decoded: decoded}
}

// Keep builds a verdict that continues the stanza search.
func Keep(reason error) Verdict {
	return Verdict{Kind: KindKeep, Reason: reason}
}

// Stop builds a verdict that ends the search for this packet entirely.
func Stop(reason error) Verdict {
	return Verdict{Kind: KindStop, Reason: reason}
}
