package utils

import (
	"crypto/rand"
	"math/big"
)

// Alphabet sans caractères ambigus (pas de O/0 ni I/1) : le code est
// recopié à la main depuis un courrier papier.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RandomSecurityCode génère un code signature à 4 chiffres (1000-9999).
func RandomSecurityCode() int {
	span := big.NewInt(9000)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		panic(err) // crypto/rand indisponible, rien à récupérer
	}
	return int(n.Int64()) + 1000
}

// RandomCode génère un code de vérification de n caractères.
func RandomCode(n int) string {
	code := make([]byte, n)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range code {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err) // crypto/rand indisponible, rien à récupérer
		}
		code[i] = codeAlphabet[idx.Int64()]
	}
	return string(code)
}
