package leakrun

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Verdict is the result of checking a scanner digest against the policy.
type Verdict int

const (
	ALLOW Verdict = iota
	DENY
)

// Digest is anything WithRule accepts as a SHA-256 digest: [32]byte,
// *[32]byte, []byte (raw or hex), string (hex or sha256sum output),
// fmt.Stringer or io.Reader.
type Digest any

// ErrDenied matches every *PolicyError via errors.Is.
var ErrDenied = errors.New("leakrun: scanner denied by policy")

// PolicyError reports a scanner whose digest the policy in the context
// rejected. Executable is empty for embedded payloads.
type PolicyError struct {
	Verdict    Verdict
	Executable string
	Digest     string
}

func (e *PolicyError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Executable == "" {
		return fmt.Sprintf("leakrun: %s digest %s", e.Verdict, e.Digest)
	}
	return fmt.Sprintf("leakrun: %s %s (sha256 %s)", e.Verdict, e.Executable, e.Digest)
}

func (e *PolicyError) Is(target error) bool {
	return target == ErrDenied
}

func (v Verdict) String() string {
	switch v {
	case ALLOW:
		return "allow"
	case DENY:
		return "deny"
	default:
		return fmt.Sprintf("verdict(%d)", v)
	}
}

type policyKey struct{}

type executionPolicy struct {
	defaultVerdict Verdict
	allow          map[[32]byte]struct{}
	deny           map[[32]byte]struct{}
}

func newExecutionPolicy() *executionPolicy {
	return &executionPolicy{
		defaultVerdict: ALLOW,
		allow:          make(map[[32]byte]struct{}),
		deny:           make(map[[32]byte]struct{}),
	}
}

func (p *executionPolicy) clone() *executionPolicy {
	if p == nil {
		return newExecutionPolicy()
	}
	c := &executionPolicy{
		defaultVerdict: p.defaultVerdict,
		allow:          make(map[[32]byte]struct{}, len(p.allow)),
		deny:           make(map[[32]byte]struct{}, len(p.deny)),
	}
	for k := range p.allow {
		c.allow[k] = struct{}{}
	}
	for k := range p.deny {
		c.deny[k] = struct{}{}
	}
	return c
}

func policyFromContext(ctx context.Context) *executionPolicy {
	if ctx == nil {
		return nil
	}
	if existing, ok := ctx.Value(policyKey{}).(*executionPolicy); ok {
		return existing
	}
	return nil
}

// WithPolicy returns a derived context that sets the default verdict used when
// no explicit rule matches the scanner's digest. Pinning a scanner build looks
// like:
//
//	ctx := leakrun.WithPolicy(context.Background(), leakrun.DENY)
//	ctx = leakrun.WithRule(ctx, leakrun.ALLOW, "<sha256 of gitleaks>")
//	found, err := leakrun.RunScan(ctx, dir, report, "", leakrun.Options{})
func WithPolicy(ctx context.Context, verdict Verdict) context.Context {
	policy := policyFromContext(ctx).clone()
	policy.defaultVerdict = verdict
	return context.WithValue(ctx, policyKey{}, policy)
}

// WithRule returns a derived context containing explicit allow/deny entries
// for SHA-256 digests. Filenames in sha256sum-formatted input are ignored.
// WithRule panics on invalid input; use WithRuleCatchError for user input.
func WithRule(ctx context.Context, rule Verdict, sha256Digests ...Digest) context.Context {
	ctx, err := WithRuleCatchError(ctx, rule, sha256Digests...)
	if err != nil {
		panic(err)
	}
	return ctx
}

// WithRuleCatchError mirrors WithRule but returns an error instead of
// panicking.
func WithRuleCatchError(ctx context.Context, rule Verdict, sha256Digests ...Digest) (context.Context, error) {
	if len(sha256Digests) == 0 {
		return ctx, nil
	}
	if rule != ALLOW && rule != DENY {
		return ctx, fmt.Errorf("unsupported verdict %d", rule)
	}
	digests, err := collectDigests(sha256Digests...)
	if err != nil {
		return ctx, err
	}
	policy := policyFromContext(ctx).clone()
	for _, digest := range digests {
		if rule == ALLOW {
			policy.allow[digest] = struct{}{}
			delete(policy.deny, digest)
		} else {
			policy.deny[digest] = struct{}{}
			delete(policy.allow, digest)
		}
	}
	return context.WithValue(ctx, policyKey{}, policy), nil
}

func collectDigests(values ...Digest) ([][32]byte, error) {
	var result [][32]byte
	for _, v := range values {
		var (
			digests [][32]byte
			err     error
		)
		switch chk := v.(type) {
		case nil:
			continue
		case [32]byte:
			digests = [][32]byte{chk}
		case *[32]byte:
			if chk != nil {
				digests = [][32]byte{*chk}
			}
		case []byte:
			digests, err = digestsFromBytes(chk)
		case string:
			digests, err = digestsFromString(chk)
		case fmt.Stringer:
			digests, err = digestsFromString(chk.String())
		case io.Reader:
			var data []byte
			if data, err = io.ReadAll(chk); err == nil {
				digests, err = digestsFromBytes(data)
			}
		default:
			return nil, fmt.Errorf("unsupported checksum type %T", v)
		}
		if err != nil {
			return nil, err
		}
		result = append(result, digests...)
	}
	return result, nil
}

func digestsFromBytes(data []byte) ([][32]byte, error) {
	if len(data) == 32 && !isHexString(string(data)) {
		var digest [32]byte
		copy(digest[:], data)
		return [][32]byte{digest}, nil
	}
	return digestsFromString(string(data))
}

// digestsFromString accepts a bare hex digest or sha256sum output; blank
// lines and # comments are skipped.
func digestsFromString(value string) ([][32]byte, error) {
	var digests [][32]byte
	scanner := bufio.NewScanner(strings.NewReader(value))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if len(line) < 64 {
			return nil, fmt.Errorf("line shorter than sha256 digest: %q", line)
		}
		if len(line) > 64 && !strings.ContainsAny(line[64:65], " \t") {
			return nil, fmt.Errorf("invalid sha256 digest: %q", line)
		}
		raw, err := hex.DecodeString(line[:64])
		if err != nil {
			return nil, fmt.Errorf("decode sha256 digest: %w", err)
		}
		var digest [32]byte
		copy(digest[:], raw)
		digests = append(digests, digest)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return digests, nil
}

func isHexString(value string) bool {
	if len(value) == 0 {
		return false
	}
	for _, r := range value {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F') {
			continue
		}
		return false
	}
	return true
}

// CheckPolicy returns an error matching ErrDenied if digest violates the
// policy carried by ctx. Without a policy everything is allowed.
func CheckPolicy(ctx context.Context, digest [32]byte, hexDigest string) error {
	policy := policyFromContext(ctx)
	if policy.evaluate(digest) == DENY {
		return &PolicyError{Verdict: DENY, Digest: hexDigest}
	}
	return nil
}

func (p *executionPolicy) evaluate(digest [32]byte) Verdict {
	if p == nil {
		return ALLOW
	}
	if _, denied := p.deny[digest]; denied {
		return DENY
	}
	if _, allowed := p.allow[digest]; allowed {
		return ALLOW
	}
	return p.defaultVerdict
}

// enforceExecutablePolicy hashes the executable that name resolves to and
// checks it against the policy in ctx. Nothing is read when ctx carries no
// policy.
func enforceExecutablePolicy(ctx context.Context, name string) error {
	if policyFromContext(ctx) == nil {
		return nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return err
	}
	digest, hexDigest, err := fileDigest(path)
	if err != nil {
		return err
	}
	if err := CheckPolicy(ctx, digest, hexDigest); err != nil {
		var perr *PolicyError
		if errors.As(err, &perr) {
			perr.Executable = path
		}
		return err
	}
	return nil
}

func fileDigest(path string) ([32]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return [32]byte{}, "", fmt.Errorf("hash %s: %w", path, err)
	}
	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest, hex.EncodeToString(digest[:]), nil
}
