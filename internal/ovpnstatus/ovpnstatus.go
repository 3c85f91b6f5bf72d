// Package ovpnstatus parses the OpenVPN daemon's periodically-rewritten
// status file into a client snapshot. The file does not exist yet during
// startup; that is a non-error state and yields an empty snapshot.
package ovpnstatus

import (
	"bufio"
	"os"
	"strings"

	"github.com/nullvine/vpnsupervisor/internal/types"
)

const clientListPrefix = "CLIENT_LIST"

// Read parses path and returns a map from client id to its current
// snapshot. Only lines prefixed "CLIENT_LIST" contribute; fields are
// positional (indices 1..5 and 7 of the comma-split, newline-stripped
// record), per spec.md §4.C. A missing file yields an empty, non-error
// snapshot.
func Read(path string) (map[string]types.ClientInfo, error) {
	clients := make(map[string]types.ClientInfo)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return clients, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if !strings.HasPrefix(line, clientListPrefix) {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 8 {
			continue
		}
		clientID := fields[1]
		clients[clientID] = types.ClientInfo{
			RealAddress:    fields[2],
			VirtAddress:    fields[3],
			BytesReceived:  fields[4],
			BytesSent:      fields[5],
			ConnectedSince: fields[7],
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return clients, nil
}
