package accessory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wristware/straplink/pkg/strap"
	"github.com/wristware/straplink/pkg/strap/frame"
	"github.com/wristware/straplink/pkg/strap/profile"
)

func request(wire uint16, isRead bool, payload []byte) []byte {
	return frame.Encode(frame.RequestHeader(wire, isRead), payload)
}

func genericRequest(isRead bool, h profile.GenericHeader, data []byte) []byte {
	b := h.Encode()
	return request(profile.WireGenericService, isRead, append(b[:], data...))
}

func TestLinkControlStatus(t *testing.T) {
	a := New()
	out, ok := a.HandleFrame(request(profile.WireLinkControl, true, []byte{1, 1}))
	require.True(t, ok)
	hdr, payload, err := frame.Decode(out)
	require.NoError(t, err)
	require.Equal(t, profile.WireLinkControl, hdr.Profile)
	require.False(t, hdr.IsMaster())
	require.Equal(t, []byte{1, 1, 0}, payload)
}

func TestServiceDiscovery(t *testing.T) {
	a := New()
	a.AddAttribute(0x1001, 1, []byte("v"), false)

	out, ok := a.HandleFrame(genericRequest(true, profile.GenericHeader{
		Version: profile.GenericVersion, Service: strap.ServiceManagement,
		Attribute: strap.AttributeServiceDiscovery,
	}, nil))
	require.True(t, ok)
	_, payload, err := frame.Decode(out)
	require.NoError(t, err)
	h, valid := profile.ParseGenericHeader(payload)
	require.True(t, valid)
	require.Equal(t, byte(profile.GenericResultOK), h.Result)
	require.Equal(t, []byte{0x01, 0x10}, payload[profile.GenericHeaderLen:])
}

func TestGenericReadWrite(t *testing.T) {
	a := New()
	a.AddAttribute(0x1001, 1, []byte{1, 2, 3}, true)

	out, ok := a.HandleFrame(genericRequest(true, profile.GenericHeader{
		Version: profile.GenericVersion, Service: 0x1001, Attribute: 1,
	}, nil))
	require.True(t, ok)
	_, payload, err := frame.Decode(out)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, payload[profile.GenericHeaderLen:])

	// write-only frames produce no reply but land in the store
	_, ok = a.HandleFrame(genericRequest(false, profile.GenericHeader{
		Version: profile.GenericVersion, Service: 0x1001, Attribute: 1, Length: 2,
	}, []byte{9, 8}))
	require.False(t, ok)
	data, found := a.AttributeData(0x1001, 1)
	require.True(t, found)
	require.Equal(t, []byte{9, 8}, data)
}

func TestGenericUnknownAttribute(t *testing.T) {
	a := New()
	out, ok := a.HandleFrame(genericRequest(true, profile.GenericHeader{
		Version: profile.GenericVersion, Service: 0x1001, Attribute: 7,
	}, nil))
	require.True(t, ok)
	_, payload, err := frame.Decode(out)
	require.NoError(t, err)
	h, _ := profile.ParseGenericHeader(payload)
	require.Equal(t, profile.GenericResultNotSupported, h.Result)
}

func TestRawEcho(t *testing.T) {
	a := New()
	out, ok := a.HandleFrame(request(profile.WireRawData, true, []byte{5, 6}))
	require.True(t, ok)
	_, payload, err := frame.Decode(out)
	require.NoError(t, err)
	require.Equal(t, []byte{5, 6}, payload)
}

func TestMalformedFrameDropped(t *testing.T) {
	a := New()
	_, ok := a.HandleFrame([]byte{0x01, 0x02})
	require.False(t, ok)
	// responses are not requests
	_, ok = a.HandleFrame(frame.Encode(frame.Header{Version: frame.Version, Profile: profile.WireRawData}, nil))
	require.False(t, ok)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strap.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[service]]
id = 0x1001

  [[service.attribute]]
  id = 1
  value = "hello"
  writable = true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	a, err := cfg.Build()
	require.NoError(t, err)
	data, found := a.AttributeData(0x1001, 1)
	require.True(t, found)
	require.Equal(t, []byte("hello"), data)
}

func TestConfigRejectsReservedService(t *testing.T) {
	cfg := &Config{Services: []ServiceConfig{{ID: 0x0001}}}
	_, err := cfg.Build()
	require.Error(t, err)
}
