package network

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/samber/lo"
)

const cookieAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var (
	sessionCookie string
	sessionOnce   sync.Once
)

// SessionCookie returns the process-wide DDoS-Guard session cookie of the form
// "__ddg2_=<16 alphanumerics>". It is generated once per process and immutable
// thereafter; the streaming host expects it on every request.
func SessionCookie() string {
	sessionOnce.Do(func() {
		value := make([]byte, 16)
		for i := range value {
			n := lo.Must(rand.Int(rand.Reader, big.NewInt(int64(len(cookieAlphabet)))))
			value[i] = cookieAlphabet[n.Int64()]
		}
		sessionCookie = fmt.Sprintf("__ddg2_=%s", value)
	})
	return sessionCookie
}
