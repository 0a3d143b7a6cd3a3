package modbus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConn struct {
	connectErr   error
	readErr      error
	response     []byte
	connectCalls int
	readCalls    int
	closed       int
}

func (f *fakeConn) Connect() error { f.connectCalls++; return f.connectErr }
func (f *fakeConn) Close() error   { f.closed++; return nil }
func (f *fakeConn) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	f.readCalls++
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.response, nil
}

func testModule(conn Conn, delay time.Duration) *Module {
	return newModule("et7017_1", et7017Addr, et7017Count, conn, delay, zap.NewNop())
}

func TestModuleRead_DecodesBigEndianWords(t *testing.T) {
	conn := &fakeConn{response: []byte{
		0x19, 0x00, 0x7D, 0x00, 0x19, 0x00, 0x19, 0x00,
		0x19, 0x00, 0x19, 0x00, 0x19, 0x00, 0x19, 0x00,
	}}
	m := testModule(conn, time.Second)

	words, err := m.Read()
	require.NoError(t, err)
	require.Len(t, words, 8)
	assert.Equal(t, uint16(6400), words[0])
	assert.Equal(t, uint16(32000), words[1])
	assert.Equal(t, 1, conn.connectCalls)
}

func TestModuleRead_BackoffSkipsNetworkAttempt(t *testing.T) {
	conn := &fakeConn{connectErr: errors.New("refused")}
	m := testModule(conn, time.Hour)

	_, err := m.Read()
	require.Error(t, err)
	assert.Equal(t, 1, conn.connectCalls)

	// Still inside the backoff window: fails fast, no dial.
	_, err = m.Read()
	assert.ErrorIs(t, err, ErrBackoff)
	assert.Equal(t, 1, conn.connectCalls)
}

func TestModuleRead_ReconnectsAfterDelay(t *testing.T) {
	conn := &fakeConn{connectErr: errors.New("refused")}
	m := testModule(conn, 50*time.Millisecond)

	_, err := m.Read()
	require.Error(t, err)

	now := time.Now()
	m.now = func() time.Time { return now.Add(time.Second) }
	conn.connectErr = nil
	conn.response = make([]byte, et7017Count*2)

	words, err := m.Read()
	require.NoError(t, err)
	assert.Len(t, words, 8)
	assert.Equal(t, 2, conn.connectCalls)
}

func TestModuleRead_ErrorDropsConnection(t *testing.T) {
	conn := &fakeConn{readErr: errors.New("reset by peer")}
	m := testModule(conn, time.Hour)

	_, err := m.Read()
	require.Error(t, err)
	assert.Equal(t, 1, conn.closed)

	// Connected -> Disconnected transition happened; next read is throttled.
	_, err = m.Read()
	assert.ErrorIs(t, err, ErrBackoff)
	assert.Equal(t, 1, conn.readCalls)
}

func TestModuleRead_ShortResponseIsAnError(t *testing.T) {
	conn := &fakeConn{response: []byte{0x00, 0x01}}
	m := testModule(conn, time.Hour)

	_, err := m.Read()
	require.Error(t, err)
	assert.Equal(t, 1, conn.closed)
}
