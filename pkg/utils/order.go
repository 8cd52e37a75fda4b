package utils

import (
	"math/rand"
	"time"

	"topup-fulfillment/pkg/models"

	"github.com/google/uuid"
)

type demoPackage struct {
	game     string
	pkg      string
	ref      string
	amount   int64
	serverID bool
}

var demoPackages = []demoPackage{
	{"Mobile Legends", "86 Diamonds", "recharge_mlbb_42", 21000, true},
	{"Mobile Legends", "172 Diamonds", "recharge_mlbb_43", 42000, true},
	{"Free Fire", "140 Diamonds", "recharge_ff_7", 19000, false},
	{"Genshin Impact", "Welkin Moon", "", 79000, true},
	{"Steam Wallet", "IDR 60.000", "voucher_3301", 65000, false},
	{"Google Play", "IDR 50.000", "voucher_5050", 52000, false},
}

// GenerateRandomOrder builds a paid-ready demo order for the simulator.
func GenerateRandomOrder() models.Order {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	p := demoPackages[r.Intn(len(demoPackages))]

	order := models.Order{
		ID:                 GenerateUUID7(),
		GameName:           p.game,
		PackageName:        p.pkg,
		PlayerID:           randomDigits(r, 9),
		Amount:             p.amount,
		Currency:           "IDR",
		PaymentMethod:      "qris",
		ExternalProductRef: p.ref,
		Status:             models.StatusPending,
		CreatedAt:          time.Now(),
	}
	if p.serverID {
		order.ServerID = randomDigits(r, 4)
	}
	return order
}

func randomDigits(r *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('0' + r.Intn(10))
	}
	if b[0] == '0' {
		b[0] = '1'
	}
	return string(b)
}

func GenerateUUID7() string {
	u, err := uuid.NewV7()
	if err != nil {
		return ""
	}
	return u.String()
}

func DeterminePublishCount() int {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	chance := r.Intn(100)

	if chance < 70 {
		return 1
	} else if chance < 90 {
		return 2
	} else {
		return 3
	}
}
