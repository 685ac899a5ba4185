package stream

import (
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"jpeg-capture-streamer/pkg/config"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtpmjpeg"
	"github.com/google/uuid"
	"github.com/pion/rtp"
)

type rtspHandler struct {
	srv     *RTSPServer
	playing sync.Map // *gortsplib.ServerSession -> struct{}
}

func (h *rtspHandler) OnConnOpen(ctx *gortsplib.ServerHandlerOnConnOpenCtx) {
	log.Println("[RTSP] client connected from", ctx.Conn.NetConn().RemoteAddr())
}

func (h *rtspHandler) OnConnClose(ctx *gortsplib.ServerHandlerOnConnCloseCtx) {
	log.Println("[RTSP] client disconnected:", ctx.Error)
}

func (h *rtspHandler) OnSessionClose(ctx *gortsplib.ServerHandlerOnSessionCloseCtx) {
	if _, ok := h.playing.LoadAndDelete(ctx.Session); ok {
		log.Println("[RTSP] session closed, remaining:", h.srv.activeClients.Add(-1))
	}
}

func (h *rtspHandler) OnDescribe(ctx *gortsplib.ServerHandlerOnDescribeCtx) (*base.Response, *gortsplib.ServerStream, error) {
	if !h.srv.matchPath(ctx.Path) {
		log.Println("[RTSP] invalid path in Describe:", ctx.Path)
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, h.srv.stream, nil
}

func (h *rtspHandler) OnSetup(ctx *gortsplib.ServerHandlerOnSetupCtx) (*base.Response, *gortsplib.ServerStream, error) {
	if !h.srv.matchPath(ctx.Path) {
		log.Println("[RTSP] OnSetup rejected: invalid path", ctx.Path)
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, h.srv.stream, nil
}

func (h *rtspHandler) OnPlay(ctx *gortsplib.ServerHandlerOnPlayCtx) (*base.Response, error) {
	if !h.srv.matchPath(ctx.Path) {
		log.Println("[RTSP] OnPlay rejected: invalid path", ctx.Path)
		return &base.Response{StatusCode: base.StatusNotFound}, nil
	}
	if _, loaded := h.playing.LoadOrStore(ctx.Session, struct{}{}); !loaded {
		log.Println("[RTSP] play requested, active clients:", h.srv.activeClients.Add(1))
	}
	return &base.Response{StatusCode: base.StatusOK}, nil
}

// RTSPServer publishes each JPEG as an RFC 2435 MJPEG stream. Frames sent
// while nobody is playing are discarded.
type RTSPServer struct {
	port   int
	path   string
	debug  bool
	tsStep uint32

	server *gortsplib.Server
	stream *gortsplib.ServerStream
	media  *description.Media
	enc    *rtpmjpeg.Encoder

	activeClients atomic.Int32
	ts            uint32
	wasActive     bool
}

func NewRTSPServer(cfg *config.Config) (*RTSPServer, error) {
	ssrc := uuid.New().ID()
	enc := &rtpmjpeg.Encoder{
		PayloadMaxSize: cfg.RtpPayloadMax,
		SSRC:           &ssrc,
	}
	if err := enc.Init(); err != nil {
		return nil, fmt.Errorf("rtp mjpeg encoder: %w", err)
	}

	step := uint32(90000 / cfg.OutputRate())
	if step == 0 {
		step = 1
	}
	s := &RTSPServer{
		port:   cfg.RtspPort,
		path:   strings.Trim(cfg.RtspPath, "/"),
		debug:  cfg.Debug(),
		tsStep: step,
		enc:    enc,
		media: &description.Media{
			Type:    description.MediaTypeVideo,
			Control: "trackID=0",
			Formats: []format.Format{&format.MJPEG{}},
		},
	}
	return s, nil
}

func (s *RTSPServer) matchPath(p string) bool {
	return strings.Trim(p, "/") == s.path
}

func (s *RTSPServer) Start() error {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", s.port), 500*time.Millisecond)
	if err == nil {
		conn.Close()
		return fmt.Errorf("port %d already in use", s.port)
	}

	s.server = &gortsplib.Server{
		RTSPAddress:   fmt.Sprintf(":%d", s.port),
		Handler:       &rtspHandler{srv: s},
		MaxPacketSize: 1472,
	}
	log.Println("[RTSP] server starting")
	if err := s.server.Start(); err != nil {
		return fmt.Errorf("start rtsp server: %w", err)
	}

	stream := &gortsplib.ServerStream{
		Server: s.server,
		Desc: &description.Session{
			Medias: []*description.Media{s.media},
			Title:  "JPEG Capture Streamer",
		},
	}
	if err := stream.Initialize(); err != nil {
		s.server.Close()
		return fmt.Errorf("initialize rtsp stream: %w", err)
	}
	s.stream = stream
	log.Println("[RTSP] ready on", fmt.Sprintf("rtsp://localhost:%d/%s", s.port, s.path))
	return nil
}

// Send packetizes one JPEG. It is only called from the consumer goroutine.
func (s *RTSPServer) Send(data []byte) error {
	if s.activeClients.Load() == 0 || s.stream == nil {
		if s.wasActive {
			log.Println("[RTSP] no clients, streaming paused")
			s.wasActive = false
		}
		return nil
	}
	if !s.wasActive {
		log.Println("[RTSP] client detected, streaming started")
		s.wasActive = true
	}

	pkts, err := s.enc.Encode(data)
	if err != nil {
		return fmt.Errorf("packetize jpeg: %w", err)
	}
	for _, pkt := range pkts {
		if err := s.writePacket(pkt); err != nil {
			return err
		}
	}
	s.ts += s.tsStep
	return nil
}

func (s *RTSPServer) writePacket(pkt *rtp.Packet) error {
	pkt.Timestamp = s.ts
	if err := s.stream.WritePacketRTP(s.media, pkt); err != nil {
		return fmt.Errorf("write rtp packet: %w", err)
	}
	logDebug(s.debug, "[RTSP] sent: Seq=%d TS=%d Bytes=%d", pkt.SequenceNumber, pkt.Timestamp, len(pkt.Payload))
	return nil
}

func (s *RTSPServer) Close() {
	if s.stream != nil {
		s.stream.Close()
	}
	if s.server != nil {
		s.server.Close()
	}
}

func logDebug(debug bool, format string, v ...any) {
	if debug {
		log.Printf(format, v...)
	}
}
