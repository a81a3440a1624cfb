package chain

import "fmt"

// Explorer renders links into a block explorer for a given cluster.
type Explorer struct {
	BaseURL string
	Cluster string
}

// TxLink returns the explorer URL of a transaction signature.
// The cluster query parameter is always appended so links resolve the
// same way regardless of the explorer's default cluster.
func (e Explorer) TxLink(signature string) string {
	return fmt.Sprintf("%s/tx/%s?cluster=%s", e.BaseURL, signature, e.Cluster)
}
