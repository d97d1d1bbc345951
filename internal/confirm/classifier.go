package confirm

import "strings"

// Classifier decides whether a device-reported reason describes bad Wi-Fi
// credentials, by case-insensitive substring match against an allow-list.
type Classifier struct {
	keywords []string
}

func NewClassifier(keywords []string) Classifier {
	c := Classifier{}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			c.keywords = append(c.keywords, k)
		}
	}
	return c
}

func (c Classifier) IsCredentialFailure(reason string) bool {
	r := strings.ToLower(reason)
	for _, k := range c.keywords {
		if strings.Contains(r, k) {
			return true
		}
	}
	return false
}
