package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rcp-official/rcp/libs/rcp"
)

func handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Access-Control-Allow-Origin", "*")
	bts, err := json.Marshal(rcp.DefaultStats.Copy())
	if err != nil {
		panic(err)
	}
	w.Header().Add("content-type", "application/json")
	w.Write(bts)
}

// statsdLoop pushes transport counter deltas every 10 seconds.
func statsdLoop() {
	var last rcp.Stats
	for {
		time.Sleep(time.Second * 10)
		now := rcp.DefaultStats.Copy()
		statClient.Timing(hostname+".rcp.segsIn", int64(now.SegsIn-last.SegsIn))
		statClient.Timing(hostname+".rcp.segsOut", int64(now.SegsOut-last.SegsOut))
		statClient.Timing(hostname+".rcp.bytesIn", int64(now.BytesIn-last.BytesIn))
		statClient.Timing(hostname+".rcp.bytesOut", int64(now.BytesOut-last.BytesOut))
		statClient.Timing(hostname+".rcp.retrans", int64(now.Retrans-last.Retrans))
		statClient.Timing(hostname+".rcp.fastRetrans", int64(now.FastRetrans-last.FastRetrans))
		statClient.Timing(hostname+".rcp.decodeErrors", int64(now.DecodeErrors-last.DecodeErrors))
		last = now
	}
}
