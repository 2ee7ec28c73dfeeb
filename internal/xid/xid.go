package xid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const numberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// New returns "<prefix>-<uuidv7>". UUIDv7 sorts by creation time, so ids
// compare in a stable order when used as lock keys.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// TransactionNumber formats TRX-<yyyymmdd>-<hhmmss>-<XXXX> using 4 random
// uppercase alphanumerics.
func TransactionNumber(at time.Time) string {
	return fmt.Sprintf("TRX-%s-%s", at.UTC().Format("20060102-150405"), randomSuffix(4))
}

func randomSuffix(n int) string {
	buf := make([]byte, n)
	max := big.NewInt(int64(len(numberAlphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			buf[i] = numberAlphabet[time.Now().UnixNano()%int64(len(numberAlphabet))]
			continue
		}
		buf[i] = numberAlphabet[idx.Int64()]
	}
	return string(buf)
}
