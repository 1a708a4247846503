package credential

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// WordCount is the number of mnemonic words a PIN encodes to.
const WordCount = 7

var (
	// ErrUnknownWord is returned when a word is not in the mnemonic wordlist.
	ErrUnknownWord = errors.New("pin: word not in wordlist")
)

var (
	pinBase  = big.NewInt(int64(len(Alphabet)))
	wordBase = big.NewInt(int64(wordlistSize))
)

// PinToWords converts a 12-character PIN (including its checksum
// character) into WordCount spoken words, via base-55 -> base-2048
// conversion of the PIN's numeric value (len(Alphabet) == 55).
func PinToWords(pin string) ([WordCount]string, error) {
	var words [WordCount]string
	if len(pin) != PinLength {
		return words, fmt.Errorf("%w: got %d chars, want %d", ErrPinLength, len(pin), PinLength)
	}

	n := new(big.Int)
	for i := 0; i < PinLength; i++ {
		idx, ok := charIndex(pin[i])
		if !ok {
			return words, fmt.Errorf("%w: %q at position %d", ErrPinAlphabet, pin[i], i)
		}
		n.Mul(n, pinBase)
		n.Add(n, big.NewInt(int64(idx)))
	}

	digits := make([]int64, WordCount)
	mod := new(big.Int)
	for i := WordCount - 1; i >= 0; i-- {
		n.DivMod(n, wordBase, mod)
		digits[i] = mod.Int64()
	}

	for i, d := range digits {
		words[i] = wordAt(int(d))
	}
	return words, nil
}

// WordsToPin converts WordCount spoken words back into the original
// 12-character PIN. Returns ErrUnknownWord if any word is not in the
// wordlist.
func WordsToPin(words [WordCount]string) (string, error) {
	n := new(big.Int)
	for i, w := range words {
		w = strings.TrimSpace(strings.ToLower(w))
		idx, ok := indexOfWord(w)
		if !ok {
			return "", fmt.Errorf("%w: %q at position %d", ErrUnknownWord, words[i], i)
		}
		n.Mul(n, wordBase)
		n.Add(n, big.NewInt(int64(idx)))
	}

	digits := make([]int64, PinLength)
	mod := new(big.Int)
	for i := PinLength - 1; i >= 0; i-- {
		n.DivMod(n, pinBase, mod)
		digits[i] = mod.Int64()
	}

	var b strings.Builder
	b.Grow(PinLength)
	for _, d := range digits {
		b.WriteByte(Alphabet[d])
	}
	return b.String(), nil
}
