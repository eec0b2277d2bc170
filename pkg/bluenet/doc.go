// Package bluenet is the client side of the stone protocol.
//
// A Client scans for stone broadcasts, decides which loaded sphere each
// stone belongs to, keeps at most one GATT connection and runs commands
// over it. Stones that are not connected can be switched through
// encrypted outbound broadcasts.
//
// # Quick Start
//
//	client, err := bluenet.NewClient(bluenet.Config{
//	    Adapter:    radio,
//	    Advertiser: radio,
//	    Keys:       keystore.NewFileStore("keys.json", passphrase),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.LoadKeys(); err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Stop()
//
//	client.Subscribe(bluenet.TopicNearestVerifiedStone, func(e bluenet.Event) {
//	    fmt.Println("nearest:", e.Payload.(bluenet.Nearest).Peer)
//	})
//
// # Connections
//
// Connect runs the handshake: the operation mode follows from the services
// the stone exposes, the dialect from its control characteristic, and the
// session nonce from the session data characteristic. Commands then go out
// encrypted at the highest access level the sphere keys allow:
//
//	if _, err := client.Connect(ctx, peer, "home"); err != nil {
//	    return err
//	}
//	defer client.Disconnect(ctx, peer)
//	return client.Switch(ctx, peer, 100)
//
// Only one request is pending at a time. Issuing a request while another
// is pending rejects the older one with request.ErrReplaced. IsRetryable
// tells transient failures from terminal ones.
//
// # Broadcasts
//
// BroadcastSwitch and BroadcastTime queue elements that are packed into
// shared advertisement blocks and kept on air until every element has
// been transmitted long enough:
//
//	err := client.BroadcastSwitch(ctx, "home", stoneID, 0)
package bluenet
