package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

func GenerateBookingID() string {
	timestamp := time.Now().Unix()
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(999999))
	return fmt.Sprintf("bk_%d_%06d", timestamp, randomNum.Int64())
}
