package chess

import (
	"fmt"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

func ecoBookInstance() *opening.BookECO {
	ecoOnce.Do(func() {
		ecoBook = opening.NewBookECO()
	})
	return ecoBook
}

// Opening names a line by its ECO classification.
type Opening struct {
	Code  string
	Title string
}

func (o Opening) String() string {
	if o.Code == "" {
		return o.Title
	}
	return fmt.Sprintf("%s %s", o.Code, o.Title)
}

// NameOpening classifies a game played from the standard start. Games from a
// custom position or with no known prefix return ok=false.
func NameOpening(startFEN string, moves []string) (Opening, bool) {
	if normalizeFEN(startFEN) != StartFEN || len(moves) == 0 {
		return Opening{}, false
	}
	game := nchess.NewGame()
	notation := nchess.UCINotation{}
	for _, mv := range moves {
		move, err := notation.Decode(game.Position(), strings.ToLower(strings.TrimSpace(mv)))
		if err != nil {
			break
		}
		if err := game.Move(move, nil); err != nil {
			break
		}
	}
	book := ecoBookInstance()
	if book == nil {
		return Opening{}, false
	}
	eco := book.Find(game.Moves())
	if eco == nil {
		return Opening{}, false
	}
	return Opening{Code: eco.Code(), Title: eco.Title()}, true
}
