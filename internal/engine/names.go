package engine

import "strconv"

// Child-worker naming. A split child's id is its parent id plus a suffix
// whose character class (digit vs capital letter) differs from the parent
// id's last character, so scanning backward from the end for a maximal run
// of one class always recovers the parent id. Fork children instead get
// flat sequential decimal ids scoped to the whole work order.

// AlphaName encodes n using capital letters only: A=0 .. Z=25, BA=26,
// BB=27, and so on. Spreadsheet-column counting, with the alternation rule
// guaranteeing the parent boundary stays locatable.
func AlphaName(n int) string {
	if n < 26 {
		return string(rune('A' + n))
	}
	return AlphaName(n/26) + string(rune('A'+n%26))
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// ChildName derives the id of the i-th split child of parent.
func ChildName(parent string, i int) string {
	if parent != "" && isDigit(parent[len(parent)-1]) {
		return parent + AlphaName(i)
	}
	return parent + strconv.Itoa(i)
}

// ParentName recovers the parent id a split child's id was derived from.
// It strips the maximal trailing run of the last character's class.
func ParentName(child string) string {
	if child == "" {
		return ""
	}
	suffixDigits := isDigit(child[len(child)-1])
	i := len(child)
	for i > 0 && isDigit(child[i-1]) == suffixDigits {
		i--
	}
	return child[:i]
}
