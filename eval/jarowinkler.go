package eval

// jaroWinkler computes the Jaro-Winkler similarity of a and b, in
// [0,1], implementing the standard algorithm directly over runes.
func jaroWinkler(a, b string) float64 {
	ar, br := []rune(a), []rune(b)
	j := jaro(ar, br)
	if j == 0 {
		return 0
	}

	prefix := 0
	maxPrefix := 4
	for prefix < len(ar) && prefix < len(br) && prefix < maxPrefix && ar[prefix] == br[prefix] {
		prefix++
	}

	const scalingFactor = 0.1
	return j + float64(prefix)*scalingFactor*(1-j)
}

func jaro(a, b []rune) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	matchDistance := max(len(a), len(b))/2 - 1
	if matchDistance < 0 {
		matchDistance = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))

	matches := 0
	for i := range a {
		start := max(0, i-matchDistance)
		end := min(i+matchDistance+1, len(b))
		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := range a {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	return (m/float64(len(a)) + m/float64(len(b)) + (m-float64(transpositions)/2)/m) / 3
}
