package cleaning

// Cleaner is the external cleaning function contract: it returns the
// normalized text or a rejection reason.
type Cleaner interface {
	Clean(text string) (string, error)
}

// Chain runs steps in order and stops at the first rejection
type Chain struct {
	steps []Step
}

// NewChain builds a cleaner from steps
func NewChain(steps ...Step) *Chain {
	return &Chain{steps: steps}
}

// Clean applies every step; the first rejection wins
func (c *Chain) Clean(text string) (string, error) {
	var err error
	for _, step := range c.steps {
		text, err = step.Apply(text)
		if err != nil {
			return "", err
		}
	}
	return text, nil
}
