package adapter

import "context"

// TitleGenerator produces a short conversation title from a problem
// statement. Title generation is best-effort decoration; callers must
// tolerate errors and never block the state machine on it.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, problem string) (string, error)
}
