// Package streak содержит доменную модель серий (streaks) студента.
//
// Пакет определяет:
//
//   - Ledger - журнал серий пользователя: два независимых трека
//     (посещаемость и задачи), общий счёт очков и список бейджей
//   - GraceState - недельное право пропустить одно занятие без потери серии
//   - Badge - постоянные достижения, которые только добавляются
//   - Repositories / Store - порты хранилища с атомарной единицей работы
//
// # Правила серий
//
// UpdateStreak сравнивает день события с lastUpdated трека. Повтор за тот же
// день (или более ранний) ничего не меняет: ни счётчик, ни очки. Успех
// увеличивает current и, при необходимости, longest. Пропуск либо сохраняет
// серию (если применён grace), либо сбрасывает её в ноль.
//
// # Восстановление
//
// Две выполненные микро-задачи за последние 48 часов восстанавливают
// серию посещаемости до половины лучшей серии:
//
//	res := ledger.Restore(tasks, streak.DefaultPolicy(), now)
//	if res.Applied {
//	    // ledger.Attendance.Current == ledger.Attendance.Longest / 2
//	}
//
// Все подходящие задачи при этом расходуются, поэтому повторный вызов
// в том же окне ничего не делает.
//
// Пакет не выполняет ввод-вывод. Все функции детерминированы и получают
// текущее время явно.
package streak
