package recognition

import "context"

// ChannelSource is a FrameSource fed by an external producer (a streaming
// connection). It holds at most one pending frame: offering a new frame
// while one is pending replaces it, so a suspended controller never works
// through a backlog of stale captures.
type ChannelSource struct {
	ch chan *Frame
}

func NewChannelSource() *ChannelSource {
	return &ChannelSource{ch: make(chan *Frame, 1)}
}

func (s *ChannelSource) Offer(frame *Frame) {
	for {
		select {
		case s.ch <- frame:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

func (s *ChannelSource) Capture(ctx context.Context) (*Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame := <-s.ch:
		return frame, nil
	}
}

// SourceFunc adapts a capture function to the FrameSource interface.
type SourceFunc func(ctx context.Context) (*Frame, error)

func (f SourceFunc) Capture(ctx context.Context) (*Frame, error) {
	return f(ctx)
}
