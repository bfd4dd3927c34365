/*
Package clock abstracts time so waiting components can be tested
deterministically.

Everything in Switchyard that sleeps, ticks, or times out (heartbeat
monitoring, settle windows, approval timeouts, result retention) takes
a Clock rather than calling the time package directly. Production
wiring passes NewSystem(); tests pass NewFake(start) and drive it with
Advance.

	fake := clock.NewFake(time.Unix(0, 0))
	ch := fake.After(30 * time.Second)
	fake.Advance(30 * time.Second) // ch fires now

The fake ticker mirrors time.Ticker's one-slot buffer: ticks that
arrive while the previous one is unread are dropped, not queued.
*/
package clock
