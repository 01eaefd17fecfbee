package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// For any offset of the validation clock relative to the token's validity
// window, the token is admitted iff nbf <= now < exp. Both boundaries are
// exercised because offsets are generated in whole seconds around them.
func TestProperty_ValidityWindowSemantics(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	issued := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ttl := 5 * time.Minute

	properties.Property("admitted iff nbf <= now < exp", prop.ForAll(
		func(offsetSeconds int64) bool {
			now := issued.Add(time.Duration(offsetSeconds) * time.Second)
			v := NewValidator("propromo.chat").WithClock(func() time.Time { return now })

			claims := &Claims{
				Email: "user@example.com",
				Chats: []string{"m1"},
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    "propromo.chat",
					NotBefore: jwt.NewNumericDate(issued),
					ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
				},
			}

			admitted := v.Validate(claims, "m1") == nil
			inWindow := !now.Before(issued) && now.Before(issued.Add(ttl))
			return admitted == inWindow
		},
		gen.Int64Range(-600, 600),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// A token authorizes exactly the monitors listed in its chats claim.
func TestProperty_TopicAuthorization(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("authorizes listed monitors and no others", prop.ForAll(
		func(chats []string, requested string) bool {
			claims := &Claims{Email: "user@example.com", Chats: chats}

			listed := false
			for _, c := range chats {
				if c == requested {
					listed = true
					break
				}
			}
			return claims.AuthorizesMonitor(requested) == listed
		},
		gen.SliceOf(gen.AlphaString()),
		gen.AlphaString(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
