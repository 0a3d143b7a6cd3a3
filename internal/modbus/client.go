package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	gomodbus "github.com/goburrow/modbus"
	"go.uber.org/zap"
)

// Register maps are fixed per device family (FC04, read input registers).
const (
	et7017Addr  = 0
	et7017Count = 8
	// ET-7284: 8 channels x 2 registers starting at address 16.
	et7284Addr  = 16
	et7284Count = 16
)

// ErrBackoff is returned by Read when the module is disconnected and the
// reconnect delay since the last failure has not elapsed yet. No network
// attempt is made in that state.
var ErrBackoff = errors.New("reconnect backoff in effect")

// Conn is the transport under a Module; satisfied by the goburrow TCP
// handler in production and by fakes in tests.
type Conn interface {
	Connect() error
	Close() error
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
}

type tcpConn struct {
	handler *gomodbus.TCPClientHandler
	client  gomodbus.Client
}

func (c *tcpConn) Connect() error { return c.handler.Connect() }
func (c *tcpConn) Close() error   { return c.handler.Close() }
func (c *tcpConn) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return c.client.ReadInputRegisters(address, quantity)
}

// Module is a Modbus TCP client for one field device with lazy, throttled
// reconnection. It is a two-state machine: any I/O error drops back to
// disconnected, and the next Read attempts a fresh handshake only once the
// reconnect delay has passed.
type Module struct {
	name  string
	addr  uint16
	count uint16

	conn           Conn
	reconnectDelay time.Duration
	now            func() time.Time
	logger         *zap.Logger

	mu         sync.Mutex
	connected  bool
	lastFailAt time.Time
}

// NewET7017Module creates a client for an 8-channel analog input module.
func NewET7017Module(name, host string, port, unitID int, timeout, reconnectDelay time.Duration, logger *zap.Logger) *Module {
	return newTCPModule(name, host, port, unitID, et7017Addr, et7017Count, timeout, reconnectDelay, logger)
}

// NewET7284Module creates a client for an 8-channel encoder/counter module.
func NewET7284Module(name, host string, port, unitID int, timeout, reconnectDelay time.Duration, logger *zap.Logger) *Module {
	return newTCPModule(name, host, port, unitID, et7284Addr, et7284Count, timeout, reconnectDelay, logger)
}

func newTCPModule(name, host string, port, unitID int, addr, count uint16, timeout, reconnectDelay time.Duration, logger *zap.Logger) *Module {
	handler := gomodbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", host, port))
	handler.Timeout = timeout
	handler.SlaveId = byte(unitID)
	conn := &tcpConn{handler: handler, client: gomodbus.NewClient(handler)}
	return newModule(name, addr, count, conn, reconnectDelay, logger)
}

func newModule(name string, addr, count uint16, conn Conn, reconnectDelay time.Duration, logger *zap.Logger) *Module {
	return &Module{
		name:           name,
		addr:           addr,
		count:          count,
		conn:           conn,
		reconnectDelay: reconnectDelay,
		now:            time.Now,
		logger:         logger,
	}
}

// Name returns the module tag used in log lines and read results.
func (m *Module) Name() string { return m.name }

// Read fetches the module's full register block and returns it as uint16
// words in device order.
func (m *Module) Read() ([]uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		if m.now().Sub(m.lastFailAt) < m.reconnectDelay {
			return nil, ErrBackoff
		}
		if err := m.conn.Connect(); err != nil {
			m.lastFailAt = m.now()
			m.logger.Warn("module connection failed",
				zap.String("module", m.name), zap.Error(err))
			return nil, fmt.Errorf("%s: connect: %w", m.name, err)
		}
		m.connected = true
		m.logger.Info("module connected", zap.String("module", m.name))
	}

	raw, err := m.conn.ReadInputRegisters(m.addr, m.count)
	if err == nil && len(raw) != int(m.count)*2 {
		err = fmt.Errorf("short response: %d bytes", len(raw))
	}
	if err != nil {
		m.logger.Error("module read failed",
			zap.String("module", m.name), zap.Error(err))
		_ = m.conn.Close()
		m.connected = false
		m.lastFailAt = m.now()
		return nil, fmt.Errorf("%s: read: %w", m.name, err)
	}

	words := make([]uint16, m.count)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(raw[i*2:])
	}
	return words, nil
}
