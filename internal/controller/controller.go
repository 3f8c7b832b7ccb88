package controller

// Controller decides which session, test or step runs next. Each method
// gets the names of the choices at its level and the index that ran last
// (-1 if none). It returns the next index; a negative index or one past the
// end stops the level. A returned error is one of the outcome abort errors.
type Controller interface {
	NextSessionIndex(names []string, last int) (int, error)
	NextTestIndex(names []string, last int) (int, error)
	NextStepIndex(names []string, last int) (int, error)
}

// Automatic runs everything in order without interaction.
type Automatic struct{}

func (Automatic) NextSessionIndex(_ []string, last int) (int, error) { return last + 1, nil }
func (Automatic) NextTestIndex(_ []string, last int) (int, error)    { return last + 1, nil }
func (Automatic) NextStepIndex(_ []string, last int) (int, error)    { return last + 1, nil }
