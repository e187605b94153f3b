package webrtc

import "github.com/pion/webrtc/v3"

const (
	reliableLabel   = "halozone"
	unreliableLabel = "halozone-lossy"
)

// ICEConfig builds the peer connection configuration. An empty server list is
// fine for peers on the same host or LAN.
func ICEConfig(stunServers []string) webrtc.Configuration {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, server := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{server}})
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
}

func ReliableChannelConfig() *webrtc.DataChannelInit {
	protocolName := "halozone-frames"
	ordered := true
	return &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: nil,
		Protocol:       &protocolName,
	}
}

func UnreliableChannelConfig() *webrtc.DataChannelInit {
	protocolName := "halozone-frames"
	ordered := false
	var retransmits uint16
	return &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
		Protocol:       &protocolName,
	}
}
