package stream

import "errors"

type Sender interface {
	Send(data []byte) error
}

// Multi forwards each frame to every sender in order and joins their errors.
type Multi []Sender

func (m Multi) Send(data []byte) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
