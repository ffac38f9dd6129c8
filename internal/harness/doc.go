// Package harness runs conformance scenarios against a handshake device.
//
// A scenario binds a device model, resets it, and then lets a producer and a
// consumer exchange values through it while the checker watches every edge.
// The run ends when the transfer goal is met and the consumer has drained
// the device, or when the edge budget runs out.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: backpressure
//	description: "What this scenario exercises"
//	device:
//	  model: pipereg          # see device.Models()
//	  convention: suffix      # suffix | prefix
//	ports:                    # optional signal name overrides
//	  in.valid: s_valid
//	dataWidth: 8
//	resetPolarity: high       # high | low
//	resetHoldEdges: 2         # or resetHoldDuration: 40ns
//	clockPeriod: 10ns
//	stimulusMode: scripted    # scripted | random | none
//	values: [0x77]
//	offerProbability: 0.85    # random stimulus
//	acceptMode: stall         # always | random | scripted | stall | none
//	acceptProbability: 0.65   # random acceptance
//	acceptPattern: [true, false]
//	stallEdges: 3
//	transferCount: 1
//	timeoutEdges: 10000
//	drainEdges: 4
//	idleEdges: 0
//	seed: 1
//	pokes:
//	  - { at: 1, port: in.valid, value: 1 }
//	probes:
//	  - name: payload_held
//	    anchor: in            # reset | in | out
//	    index: 0
//	    offset: 1
//	    span: 3
//	    port: out.data
//	    phase: sampled        # sampled | settled
//	    want: 0x77
//	expect:
//	  transfers: 1
//
// Files are decoded strictly (unknown keys are errors), validated against an
// embedded CUE schema, and finally checked for consistency.
//
// # Determinism
//
// Every random decision is a function of the seed and the edge index, and
// the roles only advance on the shared clock. The same scenario and seed
// therefore always produce the same transcript, which is what golden files
// and Result.Digest capture.
//
// # Usage
//
//	sc, err := harness.LoadScenario("scenarios/backpressure.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := harness.Run(ctx, sc)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, v := range res.Violations {
//	    log.Println(v)
//	}
package harness
