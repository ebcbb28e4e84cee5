package activitypub

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/deemkeen/fedsync/domain"
	"github.com/go-fed/httpsig"
)

// Verification is the outcome of a successful VerifyRequest.
type Verification struct {
	Actor *domain.RemoteAccount
	// Fetched is set when Actor came from the network and has not been
	// stored yet.
	Fetched bool
}

// VerifyRequest checks the HTTP signature of an inbound request whose body
// claims to come from claimedActor. Every failure wraps ErrInvalidSignature.
// Nothing is written on any path.
func (e *Env) VerifyRequest(ctx context.Context, r *http.Request, body []byte, claimedActor string) (*Verification, error) {
	signature := r.Header.Get("Signature")
	if signature == "" {
		return nil, fmt.Errorf("%w: missing Signature header", ErrInvalidSignature)
	}

	covered := signatureHeaders(signature)
	required := []string{httpsig.RequestTarget, "host", "date"}
	if len(body) > 0 {
		required = append(required, "digest")
	}
	for _, h := range required {
		if !slices.Contains(covered, h) {
			return nil, fmt.Errorf("%w: %s not signed", ErrInvalidSignature, h)
		}
	}

	if len(body) > 0 {
		if got := r.Header.Get("Digest"); got != digestOf(body) {
			return nil, fmt.Errorf("%w: digest mismatch", ErrInvalidSignature)
		}
	}

	date, err := http.ParseTime(r.Header.Get("Date"))
	if err != nil {
		return nil, fmt.Errorf("%w: bad Date header: %v", ErrInvalidSignature, err)
	}
	skew := e.now().Sub(date)
	if skew < 0 {
		skew = -skew
	}
	if skew > e.Conf.Conf.SignatureMaxSkew {
		return nil, fmt.Errorf("%w: date %s outside allowed window", ErrInvalidSignature, date.Format(time.RFC3339))
	}

	// net/http moves Host out of the header map
	if r.Header.Get("Host") == "" {
		r.Header.Set("Host", r.Host)
	}

	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	keyId := verifier.KeyId()

	if owner, _, _ := strings.Cut(keyId, "#"); owner != claimedActor {
		// keyIds are either a fragment or a sub path of the actor
		if !strings.HasPrefix(keyId, claimedActor+"/") {
			return nil, fmt.Errorf("%w: key %s does not belong to %s", ErrInvalidSignature, keyId, claimedActor)
		}
	}

	acc, fetched, err := e.LookupActor(ctx, claimedActor)
	if err != nil {
		return nil, fmt.Errorf("%w: key lookup failed: %v", ErrInvalidSignature, err)
	}
	if acc.PublicKeyId != "" && acc.PublicKeyId != keyId {
		return nil, fmt.Errorf("%w: key %s is not the key of %s", ErrInvalidSignature, keyId, claimedActor)
	}

	publicKey, err := ParsePublicKey(acc.PublicKeyPem)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if err := verifier.Verify(publicKey, httpsig.RSA_SHA256); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return &Verification{Actor: acc, Fetched: fetched}, nil
}
