package chess

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidFEN    = errors.New("invalid FEN")
	ErrInvalidSquare = errors.New("invalid square")
)

// Color identifies a side.
type Color uint8

const (
	White Color = iota
	Black
)

func (c Color) Opponent() Color { return 1 - c }

func (c Color) String() string {
	if c == Black {
		return "black"
	}
	return "white"
}

// PieceType is the colorless kind of a piece. NoPieceType marks an empty square.
type PieceType uint8

const (
	NoPieceType PieceType = iota
	Pawn
	Knight
	Bishop
	Rook
	Queen
	King
)

func (t PieceType) String() string {
	switch t {
	case Pawn:
		return "pawn"
	case Knight:
		return "knight"
	case Bishop:
		return "bishop"
	case Rook:
		return "rook"
	case Queen:
		return "queen"
	case King:
		return "king"
	default:
		return ""
	}
}

// Value is the conventional material value used by evaluators.
func (t PieceType) Value() int {
	switch t {
	case Pawn:
		return 1
	case Knight, Bishop:
		return 3
	case Rook:
		return 5
	case Queen:
		return 9
	default:
		return 0
	}
}

// Piece is a colored piece; the zero value is an empty square.
type Piece struct {
	Type  PieceType
	Color Color
}

func (p Piece) IsEmpty() bool { return p.Type == NoPieceType }

var pieceLetters = map[PieceType]byte{Pawn: 'p', Knight: 'n', Bishop: 'b', Rook: 'r', Queen: 'q', King: 'k'}

// Letter returns the FEN letter, uppercase for white.
func (p Piece) Letter() byte {
	l, ok := pieceLetters[p.Type]
	if !ok {
		return 0
	}
	if p.Color == White {
		return l - 'a' + 'A'
	}
	return l
}

func pieceFromLetter(b byte) (Piece, bool) {
	color := Black
	lower := b
	if b >= 'A' && b <= 'Z' {
		color = White
		lower = b - 'A' + 'a'
	}
	for t, l := range pieceLetters {
		if l == lower {
			return Piece{Type: t, Color: color}, true
		}
	}
	return Piece{}, false
}

// Square is a board index, a1=0 … h8=63.
type Square int8

const NoSquare Square = -1

func SquareAt(file, rank int) Square {
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return NoSquare
	}
	return Square(rank*8 + file)
}

func (sq Square) File() int { return int(sq) % 8 }
func (sq Square) Rank() int { return int(sq) / 8 }

func (sq Square) Valid() bool { return sq >= 0 && sq < 64 }

func (sq Square) String() string {
	if !sq.Valid() {
		return "-"
	}
	return string([]byte{byte('a' + sq.File()), byte('1' + sq.Rank())})
}

// ParseSquare parses algebraic notation such as "e4".
func ParseSquare(s string) (Square, error) {
	s = strings.TrimSpace(s)
	if len(s) != 2 {
		return NoSquare, fmt.Errorf("%w: %q", ErrInvalidSquare, s)
	}
	file := int(s[0]) - 'a'
	rank := int(s[1]) - '1'
	sq := SquareAt(file, rank)
	if sq == NoSquare {
		return NoSquare, fmt.Errorf("%w: %q", ErrInvalidSquare, s)
	}
	return sq, nil
}

// Move is a value object. Legality is relative to a position and never stored.
type Move struct {
	From      Square
	To        Square
	Piece     PieceType
	Color     Color
	Captured  PieceType
	Promotion PieceType

	IsCapture         bool
	IsPromotion       bool
	IsEnPassant       bool
	IsCastleKingSide  bool
	IsCastleQueenSide bool
	// IsCheck is filled by move generation once the move has been tried on the board.
	IsCheck bool
}

// UCI renders the move as <from><to>[promotion].
func (m Move) UCI() string {
	if !m.From.Valid() || !m.To.Valid() {
		return "0000"
	}
	s := m.From.String() + m.To.String()
	if m.IsPromotion {
		if l, ok := pieceLetters[m.Promotion]; ok {
			s += string(l)
		}
	}
	return s
}

func (m Move) String() string { return m.UCI() }

// IsNull reports whether m is the zero move used as a no-op suggestion.
func (m Move) IsNull() bool { return m.From == m.To }

// ParseUCI splits a UCI string into squares and an optional promotion piece.
func ParseUCI(s string) (from, to Square, promo PieceType, err error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 4 && len(s) != 5 {
		return NoSquare, NoSquare, NoPieceType, fmt.Errorf("invalid uci move %q", s)
	}
	if from, err = ParseSquare(s[0:2]); err != nil {
		return NoSquare, NoSquare, NoPieceType, err
	}
	if to, err = ParseSquare(s[2:4]); err != nil {
		return NoSquare, NoSquare, NoPieceType, err
	}
	if len(s) == 5 {
		switch s[4] {
		case 'q':
			promo = Queen
		case 'r':
			promo = Rook
		case 'b':
			promo = Bishop
		case 'n':
			promo = Knight
		default:
			return NoSquare, NoSquare, NoPieceType, fmt.Errorf("invalid promotion in %q", s)
		}
	}
	return from, to, promo, nil
}

// CastlingRights holds the four independent castling flags.
type CastlingRights struct {
	WhiteKingSide  bool
	WhiteQueenSide bool
	BlackKingSide  bool
	BlackQueenSide bool
}

func (c CastlingRights) String() string {
	var b strings.Builder
	if c.WhiteKingSide {
		b.WriteByte('K')
	}
	if c.WhiteQueenSide {
		b.WriteByte('Q')
	}
	if c.BlackKingSide {
		b.WriteByte('k')
	}
	if c.BlackQueenSide {
		b.WriteByte('q')
	}
	if b.Len() == 0 {
		return "-"
	}
	return b.String()
}

// Status is the termination state of a game.
type Status string

const (
	StatusOngoing   Status = "ongoing"
	StatusCheckmate Status = "checkmate"
	StatusStalemate Status = "stalemate"
	StatusFiftyMove Status = "fiftyMove"
)

// Winner is the outcome from the board's point of view.
type Winner string

const (
	WinnerNone  Winner = ""
	WinnerWhite Winner = "white"
	WinnerBlack Winner = "black"
	WinnerDraw  Winner = "draw"
)

func winnerOf(c Color) Winner {
	if c == Black {
		return WinnerBlack
	}
	return WinnerWhite
}

type Result struct {
	Status Status
	Winner Winner
}

func (r Result) IsOver() bool { return r.Status != "" && r.Status != StatusOngoing }
