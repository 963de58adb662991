// Package dashscope implements the Alibaba DashScope gummy realtime
// recognition adapter over the duplex inference websocket.
package dashscope
