package utils

import "net"

// GetLocalIP 返回本机首个非回环 IPv4 地址，取不到时回退 "unknown"。
// 仅用于 client.id 等诊断标识，不参与业务逻辑。
func GetLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "unknown"
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return "unknown"
}
