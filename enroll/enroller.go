// Package enroll orchestrates certificate enrollment: account bootstrap,
// order creation, dns-01 challenge solving, finalization and certificate
// retrieval, mapped to a single result for the caller.
package enroll

import (
	"context"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/certomat/certomat/acme"
	"github.com/certomat/certomat/acme/client"
	"github.com/certomat/certomat/acme/resources"
	"github.com/certomat/certomat/acme/store"
	"github.com/certomat/certomat/dns"
)

// Enroller drives one enrollment at a time against an ACME server.
type Enroller struct {
	// Client is the ACME protocol engine.
	Client *client.Client
	// Store caches registered accounts between processes. Optional; a
	// nil Store registers a fresh account every run.
	Store *store.Store
	// Provider manages the dns-01 challenge TXT records.
	Provider dns.Provider
	// Checker verifies record propagation before challenges are
	// answered. Optional; nil skips verification.
	Checker *dns.Checker
	// SettleDelay is the fixed wait applied instead of propagation
	// verification when the Provider is out-of-band.
	SettleDelay time.Duration
	// FallbackDelay is the extra wait applied when propagation
	// verification fails but the enrollment proceeds anyway.
	FallbackDelay time.Duration
	// CleanupRecords removes challenge records after validation.
	// Best-effort; cleanup failures never fail the enrollment.
	CleanupRecords bool

	log *zap.Logger
}

// New creates an Enroller. The logger may be nil.
func New(c *client.Client, s *store.Store, p dns.Provider, checker *dns.Checker, logger *zap.Logger) *Enroller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enroller{
		Client:         c,
		Store:          s,
		Provider:       p,
		Checker:        checker,
		SettleDelay:    30 * time.Second,
		FallbackDelay:  10 * time.Second,
		CleanupRecords: true,
		log:            logger,
	}
}

// pendingChallenge tracks a challenge whose record has been published but
// whose response has not yet been submitted.
type pendingChallenge struct {
	identifier resources.Identifier
	challenge  resources.Challenge
	record     string
	value      string
}

// Enroll requests a certificate for the given DER-encoded CSR covering
// subjectCN and identifiers. It returns a Result in all cases; errors are
// folded into a failure Result rather than returned.
func (e *Enroller) Enroll(ctx context.Context, csrDER []byte, subjectCN string, identifiers []string) *Result {
	requestID := newRequestID()
	log := e.log.With(zap.String("requestID", requestID))

	names := dedupeNames(subjectCN, identifiers)
	if len(names) == 0 {
		return failure(requestID, fmt.Errorf("enrollment requires at least one identifier"))
	}
	log.Info("starting enrollment", zap.Strings("identifiers", names))

	if err := e.ensureAccount(ctx, log); err != nil {
		return failure(requestID, err)
	}

	idents := make([]resources.Identifier, len(names))
	for i, name := range names {
		idents[i] = resources.Identifier{Type: "dns", Value: name}
	}
	order, err := e.Client.CreateOrder(ctx, idents, time.Time{})
	if err != nil {
		return failure(requestID, err)
	}

	pending, err := e.publishRecords(ctx, order, log)
	if err != nil {
		return failure(requestID, err)
	}
	defer e.cleanup(ctx, pending, log)

	if err := e.answerChallenges(ctx, pending, log); err != nil {
		return failure(requestID, err)
	}

	finalized, err := e.Client.FinalizeOrder(ctx, order, csrDER)
	if err != nil {
		return failure(requestID, err)
	}
	if finalized.Certificate == "" {
		return failure(requestID, fmt.Errorf(
			"finalized order %q has no certificate URL", finalized.ID))
	}

	certBytes, err := e.Client.GetCertificate(ctx, finalized.Certificate)
	if err != nil {
		return failure(requestID, err)
	}

	log.Info("enrollment complete", zap.Strings("identifiers", names))
	return &Result{
		Status:         StatusSuccess,
		Message:        "certificate issued",
		CertificatePEM: certPEM(certBytes),
		RequestID:      requestID,
	}
}

// Synchronize is not supported: certificate lifecycle tracking is
// external to the enrollment engine.
func (e *Enroller) Synchronize(context.Context) *Result {
	return &Result{
		Status:    StatusNotSupported,
		Message:   "certificate synchronization is not supported",
		RequestID: newRequestID(),
	}
}

// Revoke is not supported through the enrollment surface. The underlying
// protocol engine can revoke, but lifecycle decisions are external.
func (e *Enroller) Revoke(context.Context) *Result {
	return &Result{
		Status:    StatusNotSupported,
		Message:   "certificate revocation is not supported",
		RequestID: newRequestID(),
	}
}

// ensureAccount loads the cached account for the ACME server, falling
// back to fresh registration on any cache miss. Corrupt or undecryptable
// cache entries are a miss, not a failure.
func (e *Enroller) ensureAccount(ctx context.Context, log *zap.Logger) error {
	if e.Client.AccountID() != "" {
		return nil
	}

	host := e.Client.DirectoryURL.Host
	if e.Store != nil {
		acct, err := e.Store.LoadDefault(host)
		if err == nil {
			e.Client.Account = acct
			log.Info("using cached account", zap.String("id", acct.ID))
			return nil
		}
		if !errors.Is(err, store.ErrAccountNotFound) {
			log.Warn("cached account unusable, registering a new one", zap.Error(err))
		}
	}

	if err := e.Client.Register(ctx); err != nil {
		return err
	}
	if e.Store != nil {
		if err := e.Store.Save(e.Client.Account, host); err != nil {
			// The account works for this run even if it could not be
			// cached for the next one.
			log.Warn("unable to store account", zap.Error(err))
		}
	}
	return nil
}

// publishRecords walks the order's authorizations and creates the TXT
// record for every pending dns-01 challenge. All records are created
// before any propagation waiting so multi-domain orders amortize the
// delay.
func (e *Enroller) publishRecords(ctx context.Context, order *resources.Order, log *zap.Logger) ([]pendingChallenge, error) {
	var pending []pendingChallenge
	for _, authzURL := range order.Authorizations {
		authz, err := e.Client.GetAuthorization(ctx, authzURL)
		if err != nil {
			return pending, err
		}
		if authz.Status == acme.STATUS_VALID {
			log.Debug("authorization already valid",
				zap.String("identifier", authz.Identifier.Value))
			continue
		}

		chal, ok := findChallenge(authz, acme.CHALLENGE_DNS01)
		if !ok {
			return pending, fmt.Errorf(
				"%w: authorization %q for %q offers no %q challenge",
				client.ErrUnsupportedChallengeType,
				authzURL, authz.Identifier.Value, acme.CHALLENGE_DNS01)
		}

		validation, err := e.Client.DecodeChallengeValidation(authz.Identifier, chal)
		if err != nil {
			return pending, err
		}

		if err := e.Provider.CreateRecord(ctx, validation.Record, validation.Value); err != nil {
			return pending, fmt.Errorf("unable to create record %q: %w",
				validation.Record, err)
		}
		log.Info("published challenge record",
			zap.String("record", validation.Record),
			zap.String("identifier", authz.Identifier.Value))

		pending = append(pending, pendingChallenge{
			identifier: authz.Identifier,
			challenge:  chal,
			record:     validation.Record,
			value:      validation.Value,
		})
	}
	return pending, nil
}

// answerChallenges waits for each record to propagate and submits the
// challenge responses. Propagation failure is advisory: after the
// fallback delay the challenge is answered anyway and the CA's own
// resolvers get the final say.
func (e *Enroller) answerChallenges(ctx context.Context, pending []pendingChallenge, log *zap.Logger) error {
	for _, pc := range pending {
		if e.Provider.OutOfBand() || e.Checker == nil {
			log.Debug("skipping propagation check",
				zap.String("record", pc.record),
				zap.Duration("settle", e.SettleDelay))
			if err := sleepCtx(ctx, e.SettleDelay); err != nil {
				return err
			}
		} else {
			propagated, err := e.Checker.Check(ctx, pc.record, pc.value)
			if err != nil {
				return err
			}
			if !propagated {
				log.Warn("record not confirmed, proceeding after fallback delay",
					zap.String("record", pc.record),
					zap.Duration("delay", e.FallbackDelay))
				if err := sleepCtx(ctx, e.FallbackDelay); err != nil {
					return err
				}
			}
		}

		if _, err := e.Client.AnswerChallenge(ctx, pc.challenge); err != nil {
			return fmt.Errorf("challenge for %q failed: %w", pc.identifier.Value, err)
		}
	}
	return nil
}

// cleanup removes published challenge records. Best-effort only.
func (e *Enroller) cleanup(ctx context.Context, pending []pendingChallenge, log *zap.Logger) {
	if !e.CleanupRecords || e.Provider.OutOfBand() {
		return
	}
	for _, pc := range pending {
		if err := e.Provider.DeleteRecord(ctx, pc.record, pc.value); err != nil {
			log.Warn("unable to delete challenge record",
				zap.String("record", pc.record),
				zap.Error(err))
		}
	}
}

func findChallenge(authz *resources.Authorization, challType string) (resources.Challenge, bool) {
	for _, chal := range authz.Challenges {
		if chal.Type == challType {
			return chal, true
		}
	}
	return resources.Challenge{}, false
}

// dedupeNames merges the subject CN and SAN identifiers, CN first,
// preserving order.
func dedupeNames(subjectCN string, identifiers []string) []string {
	var names []string
	seen := map[string]bool{}
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}
	add(subjectCN)
	for _, ident := range identifiers {
		add(ident)
	}
	return names
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// certPEM passes through bytes already in PEM form and wraps raw DER in
// a CERTIFICATE block otherwise.
func certPEM(certBytes []byte) string {
	if strings.HasPrefix(strings.TrimSpace(string(certBytes)), "-----BEGIN") {
		return string(certBytes)
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certBytes,
	}))
}
