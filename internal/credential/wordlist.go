package credential

// wordlistPrefixes and wordlistSuffixes together generate the 2048-word
// mnemonic space (32*64=2048) used to render a PIN as spoken words. No
// third-party wordlist dependency is pulled in for this; the list is
// built combinatorially rather than embedded verbatim, so it only needs
// to be a fixed, bijective enumeration of 2048 distinct tokens.
var wordlistPrefixes = [32]string{
	"abal", "acorn", "amber", "arid", "aspen", "atlas", "azure", "baker",
	"basil", "birch", "bloom", "brave", "briar", "bronze", "cabin", "cedar",
	"chalk", "clover", "coral", "crane", "crest", "crisp", "delta", "dover",
	"eagle", "ember", "fable", "falcon", "feral", "flint", "forge", "frost",
}

var wordlistSuffixes = [64]string{
	"glen", "grove", "haven", "hollow", "ivory", "jasper", "kestrel", "lagoon",
	"lark", "linen", "lotus", "maple", "marsh", "meadow", "mint", "moss",
	"nectar", "nimbus", "noble", "oak", "onyx", "opal", "otter", "paper",
	"pearl", "petal", "pine", "plume", "quartz", "quill", "raven", "reed",
	"ridge", "river", "robin", "rust", "sable", "sage", "shale", "shore",
	"silver", "slate", "solar", "spark", "spire", "stone", "storm", "swan",
	"tide", "timber", "topaz", "trail", "tundra", "umber", "valley", "velvet",
	"violet", "wheat", "willow", "wisp", "wolf", "wren", "zephyr", "zinc",
}

// wordlistSize is the total number of distinct mnemonic words (2^11).
const wordlistSize = len(wordlistPrefixes) * len(wordlistSuffixes)

var wordIndex map[string]int

func init() {
	wordIndex = make(map[string]int, wordlistSize)
	for i := 0; i < wordlistSize; i++ {
		wordIndex[wordAt(i)] = i
	}
}

func wordAt(i int) string {
	return wordlistPrefixes[i/len(wordlistSuffixes)] + "-" + wordlistSuffixes[i%len(wordlistSuffixes)]
}

func indexOfWord(w string) (int, bool) {
	i, ok := wordIndex[w]
	return i, ok
}
