package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultNetworks(t *testing.T) {
	networks := DefaultNetworks()

	sandbox := networks[DefaultNetwork]
	require.NotNil(t, sandbox)
	assert.Equal(t, "http://localhost:8080", sandbox.NodeURL)
	assert.Equal(t, int64(31337), sandbox.L1ChainID)
	assert.True(t, sandbox.IsTestnet)
}

func TestMerge(t *testing.T) {
	t.Run("override keeps unset default fields", func(t *testing.T) {
		set := Merge(DefaultNetworks(), map[string]*Config{
			"sandbox": {NodeURL: "http://10.0.0.2:8080"},
		})

		sandbox, err := set.Get("sandbox")
		require.NoError(t, err)
		assert.Equal(t, "http://10.0.0.2:8080", sandbox.NodeURL)
		assert.Equal(t, int64(31337), sandbox.L1ChainID)
		assert.Equal(t, "Local Sandbox", sandbox.Name)
	})

	t.Run("adds new networks", func(t *testing.T) {
		set := Merge(DefaultNetworks(), map[string]*Config{
			"devnet": {NodeURL: "https://devnet.example.org", L1ChainID: 11155111},
		})
		assert.Equal(t, []string{"devnet", "sandbox"}, set.Keys())

		devnet, err := set.Get("DEVNET")
		require.NoError(t, err)
		assert.Equal(t, "devnet", devnet.Name)
	})

	t.Run("does not mutate defaults", func(t *testing.T) {
		defaults := DefaultNetworks()
		Merge(defaults, map[string]*Config{"sandbox": {NodeURL: "http://other"}})
		assert.Equal(t, "http://localhost:8080", defaults["sandbox"].NodeURL)
	})
}

func TestSet_Get(t *testing.T) {
	set := Merge(DefaultNetworks(), map[string]*Config{"empty": {}})

	_, err := set.Get("mainnet")
	assert.ErrorIs(t, err, ErrUnknownNetwork)

	_, err = set.Get("empty")
	assert.Error(t, err)
}

func TestConfig_SponsoredFPCAddress(t *testing.T) {
	c := &Config{}
	addr, err := c.SponsoredFPCAddress()
	require.NoError(t, err)
	assert.True(t, addr.IsZero())

	c.SponsoredFPC = "0x0a"
	addr, err = c.SponsoredFPCAddress()
	require.NoError(t, err)
	assert.Equal(t, byte(0x0a), addr[31])

	c.SponsoredFPC = "nope"
	_, err = c.SponsoredFPCAddress()
	assert.Error(t, err)
}
