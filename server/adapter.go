/******************************************************************************
 *
 *  Description :
 *
 *    Inter-process broadcast over redis pub/sub. Every locally routed
 *    message is published with its resolved destination; other nodes
 *    deliver it into their own rooms. The origin node id breaks the loop.
 *
 *****************************************************************************/
package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/symple/relay/server/logs"
	"github.com/symple/relay/server/store"
)

const clusterChannel = "symple:route"

// clusterMsg is the envelope published between nodes.
type clusterMsg struct {
	// Origin node.
	Node string `json:"node"`
	// Serialized application message.
	Pkt json.RawMessage `json:"pkt"`
	// Direct delivery target, if any.
	SID string `json:"sid,omitempty"`
	// Destination rooms, if any.
	Rooms []string `json:"rooms,omitempty"`
	// Deliver to every session.
	Global bool `json:"global,omitempty"`
	// Session to skip; meaningful on the origin node only but harmless
	// elsewhere since session ids are unique across the cluster.
	SkipSid string `json:"skip,omitempty"`
}

type clusterAdapter struct {
	node   string
	client *redis.Client
	sub    *redis.PubSub
}

func newClusterAdapter(config *store.RedisConfig) (*clusterAdapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("adapter: %v", err)
	}

	a := &clusterAdapter{
		node:   uuid.NewString(),
		client: client,
	}
	a.sub = client.Subscribe(context.Background(), clusterChannel)
	go a.readLoop()

	logs.Info.Println("adapter: node", a.node, "subscribed to", clusterChannel)
	return a, nil
}

// publish sends a resolved route request to the other nodes.
func (a *clusterAdapter) publish(req *routeReq) {
	data, err := json.Marshal(&clusterMsg{
		Node:    a.node,
		Pkt:     req.pkt,
		SID:     req.sid,
		Rooms:   req.rooms,
		Global:  req.global,
		SkipSid: req.skipSid,
	})
	if err != nil {
		return
	}
	if err := a.client.Publish(context.Background(), clusterChannel, data).Err(); err != nil {
		logs.Warning.Println("adapter: publish failed", err)
	}
}

// readLoop re-injects messages from other nodes into the local hub.
func (a *clusterAdapter) readLoop() {
	for msg := range a.sub.Channel() {
		var cm clusterMsg
		if err := json.Unmarshal([]byte(msg.Payload), &cm); err != nil {
			logs.Warning.Println("adapter: malformed cluster message", err)
			continue
		}
		if cm.Node == a.node {
			continue
		}
		globals.hub.route <- &routeReq{
			pkt:     cm.Pkt,
			skipSid: cm.SkipSid,
			sid:     cm.SID,
			rooms:   cm.Rooms,
			global:  cm.Global,
			local:   true,
		}
	}
}

func (a *clusterAdapter) stop() {
	a.sub.Close()
	a.client.Close()
}
