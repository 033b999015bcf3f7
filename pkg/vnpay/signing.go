/**
 * @description
 * Request signing and callback verification for the VNPAY hosted payment page.
 *
 * Every outbound request and every inbound return/IPN carries a set of
 * vnp_* query parameters plus vnp_SecureHash, the hex HMAC-SHA512 of the
 * canonical string built from the other parameters.
 */
package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"
)

// ErrProtocol reports signing input that cannot be turned into a canonical string.
var ErrProtocol = errors.New("vnpay protocol error")

const (
	ParamSecureHash     = "vnp_SecureHash"
	ParamSecureHashType = "vnp_SecureHashType"
)

func isReserved(key string) bool {
	return key == ParamSecureHash || key == ParamSecureHashType
}

// CanonicalString sorts the signable parameters by byte value and joins them
// as form-encoded key=value pairs. Reserved signature keys and empty values
// are left out.
func CanonicalString(params map[string]string) (string, error) {
	if len(params) == 0 {
		return "", fmt.Errorf("%w: empty parameter set", ErrProtocol)
	}

	keys := make([]string, 0, len(params))
	for key, value := range params {
		if isReserved(key) {
			continue
		}
		if strings.TrimSpace(key) == "" {
			return "", fmt.Errorf("%w: empty parameter name", ErrProtocol)
		}
		if !utf8.ValidString(key) || !utf8.ValidString(value) {
			return "", fmt.Errorf("%w: parameter %q is not valid UTF-8", ErrProtocol, key)
		}
		if value == "" {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: no signable parameters", ErrProtocol)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[key]))
	}
	return b.String(), nil
}

// Sign returns the hex-encoded HMAC-SHA512 of canonical.
func Sign(canonical string, secret []byte) string {
	return hex.EncodeToString(mac(canonical, secret))
}

func mac(canonical string, secret []byte) []byte {
	h := hmac.New(sha512.New, secret)
	h.Write([]byte(canonical))
	return h.Sum(nil)
}

// BuildRequestURL appends the canonical parameters and their signature to baseURL.
func BuildRequestURL(baseURL string, params map[string]string, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("%w: signing secret is empty", ErrProtocol)
	}

	base := strings.TrimSpace(baseURL)
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: invalid gateway url %q", ErrProtocol, baseURL)
	}

	canonical, err := CanonicalString(params)
	if err != nil {
		return "", err
	}

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + canonical + "&" + ParamSecureHash + "=" + Sign(canonical, secret), nil
}

// VerifyResult is the outcome of checking a signed callback.
type VerifyResult struct {
	Valid             bool
	CanonicalMismatch bool
	Reason            string
}

// Verify recomputes the signature over everything except the signature
// fields and compares it with vnp_SecureHash in constant time.
func Verify(received map[string]string, secret []byte) VerifyResult {
	provided := strings.TrimSpace(received[ParamSecureHash])
	if provided == "" {
		return VerifyResult{Reason: "missing signature"}
	}
	if len(secret) == 0 {
		return VerifyResult{Reason: "signing secret is empty"}
	}

	canonical, err := CanonicalString(received)
	if err != nil {
		return VerifyResult{Reason: err.Error()}
	}

	decoded, err := hex.DecodeString(strings.ToLower(provided))
	if err != nil {
		return VerifyResult{Reason: "signature is not hex encoded"}
	}

	if !hmac.Equal(decoded, mac(canonical, secret)) {
		return VerifyResult{CanonicalMismatch: true, Reason: "signature mismatch"}
	}
	return VerifyResult{Valid: true}
}

// ParamsFromQuery flattens query values into a parameter set. A key sent
// more than once makes the set ambiguous and is rejected.
func ParamsFromQuery(values url.Values) (map[string]string, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: empty parameter set", ErrProtocol)
	}
	params := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) != 1 {
			return nil, fmt.Errorf("%w: parameter %q repeated", ErrProtocol, key)
		}
		params[key] = vals[0]
	}
	return params, nil
}
