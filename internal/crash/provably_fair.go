package crash

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
)

// DEFAULT_HOUSE_EDGE is the share of rounds that crash instantly at 1.00x.
const DEFAULT_HOUSE_EDGE = 0.01

// 2^52, the float64 mantissa range. Keeps r exactly representable.
const hashDomain = 4503599627370496.0

// CrashPoint derives the terminal multiplier of a round from the server seed
// and round id. Anyone holding the revealed seed can recompute it with a
// stock HMAC-SHA256:
//
//	h = HMAC_SHA256(key=serverSeed, msg=roundID)
//	r = int(hex(h)[0:13], 16) / 2^52
//	r < edge  -> 1.00
//	otherwise -> floor(100 * (1-edge) / (1-r)) / 100
func CrashPoint(serverSeed, roundID string, houseEdge float64) float64 {
	r := hashToUnit(serverSeed, roundID)

	if r < houseEdge {
		return MIN_MULTIPLIER
	}

	crashValue := math.Floor(100*(1-houseEdge)/(1-r)) / 100
	if crashValue < MIN_MULTIPLIER {
		return MIN_MULTIPLIER
	}
	return crashValue
}

func hashToUnit(serverSeed, roundID string) float64 {
	h := hmac.New(sha256.New, []byte(serverSeed))
	h.Write([]byte(roundID))
	hashHex := hex.EncodeToString(h.Sum(nil))

	// 13 hex chars = 52 bits
	n, err := strconv.ParseUint(hashHex[:13], 16, 64)
	if err != nil {
		return 0
	}
	return float64(n) / hashDomain
}

// GenerateSeed creates a cryptographically secure random seed
func GenerateSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashCommitment creates a SHA256 hash of the seed for commitment
func HashCommitment(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// VerifyCommitment reports whether a revealed seed matches the commitment
// published when the round was created.
func VerifyCommitment(seed, commitment string) bool {
	return hmac.Equal([]byte(HashCommitment(seed)), []byte(commitment))
}

// VerifyRound allows players to verify the fairness of a round
func VerifyRound(serverSeed, roundID string, houseEdge, claimedMultiplier float64) bool {
	calculated := CrashPoint(serverSeed, roundID, houseEdge)
	return math.Abs(calculated-claimedMultiplier) < 0.005
}
