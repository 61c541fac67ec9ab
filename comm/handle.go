package comm

import "fmt"

// Link is one directed channel of an exchange round. ID is the position of
// the link in the declared send or receive set and Rank is the peer at the
// other end.
type Link struct {
	ID   int
	Rank int
}

func (l Link) String() string {
	return fmt.Sprintf("link %d (rank %d)", l.ID, l.Rank)
}

// DataHandle packs and unpacks the data of one exchange round. Pack and
// Unpack must read and write values in the same order.
type DataHandle interface {
	// Pack serializes this rank's contribution for link into buf
	Pack(link Link, buf *MessageBuffer) error
	// Unpack deserializes a buffer received on link
	Unpack(link Link, buf *MessageBuffer) error
}

// RequireLinkZero returns ErrUnknownLink unless link is the single link a
// worker holds to the I/O rank.
func RequireLinkZero(link Link, method string) error {
	if link.ID != 0 {
		return fmt.Errorf("%s: got %v, expected link 0: %w", method, link, ErrUnknownLink)
	}
	return nil
}
