package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const demoProject = `name: RocketPoolETHIndexer
project_type: no-code
networks:
  - name: ethereum
    chain_id: 31337
    rpc: http://localhost:8545
storage:
  postgres:
    enabled: true
    drop_each_run: true
  csv:
    enabled: false
contracts:
  - name: RocketPoolETH
    details:
      - network: ethereum
        address: "0xae78736cd615f374d3085123a210448e74fc6393"
        start_block: "18600000"
        end_block: "18600500"
    abi: ./abis/RocketTokenRETH.abi.json
    include_events:
      - Transfer
`

func TestAdaptDemoYAML(t *testing.T) {
	const addr = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
	out := AdaptDemoYAML(demoProject, addr, "http://127.0.0.1:9545")

	assert.Contains(t, out, "name: SimpleERC20\n")
	assert.Contains(t, out, "name: SimpleERC20Indexer")
	assert.Contains(t, out, "abi: ./abis/SimpleERC20.abi.json")
	assert.Contains(t, out, `address: "`+addr+`"`)
	assert.Contains(t, out, `start_block: "0"`)
	assert.Contains(t, out, `end_block: "0"`)
	assert.Contains(t, out, "postgres:\n    enabled: false")
	assert.NotContains(t, out, "drop_each_run")
	assert.Contains(t, out, "csv:\n    enabled: true")
	assert.Contains(t, out, "rpc: http://127.0.0.1:9545")
	assert.NotContains(t, out, "RocketPool")
}

func TestAdaptDemoYAML_SameRPC(t *testing.T) {
	out := AdaptDemoYAML(demoProject, FirstDeployAddress, "http://localhost:8545")
	assert.Contains(t, out, "rpc: http://localhost:8545")
}
